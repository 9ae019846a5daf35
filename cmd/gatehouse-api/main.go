package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse-api",
	Short: "Gatehouse API - Permission resolution and approval workflow engine",
	Long:  `A multi-tenant Go API resolving permissions over a containment tree and routing sensitive changes through auditable approval workflows.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
