package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pgcdc",
	Short: "pgcdc streams PostgreSQL logical replication changes as structured events",
	Long:  `pgcdc reads a pgoutput replication slot and prints decoded insert/update/delete/truncate events to stdout.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./pgcdc.yaml or $HOME/.config/pgcdc.yaml)")
	rootCmd.PersistentFlags().String("db-name", "", "source database name, stamped onto every emitted event's table schema")
	rootCmd.PersistentFlags().String("dsn", "", "PostgreSQL connection string with replication=database")
	rootCmd.PersistentFlags().String("publication", "", "publication name")
	rootCmd.PersistentFlags().String("slot", "", "replication slot name")

	viper.BindPFlag("dbName", rootCmd.PersistentFlags().Lookup("db-name"))
	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("publication", rootCmd.PersistentFlags().Lookup("publication"))
	viper.BindPFlag("slot", rootCmd.PersistentFlags().Lookup("slot"))

	rootCmd.AddCommand(streamCmd)
}

func main() {
	Execute()
}
