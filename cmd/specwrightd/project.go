package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/specwright/specwright/internal/output"
	"github.com/specwright/specwright/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name> <directory>",
	Short: "Register a project rooted at a local git directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectAdd,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectAddCmd)
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	name, directory := args[0], args[1]
	if _, err := os.Stat(directory); err != nil {
		return fmt.Errorf("directory %s: %w", directory, err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.CreateProject(context.Background(), &store.Project{Name: name, Directory: directory})
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	output.PrintSuccess(os.Stdout, fmt.Sprintf("created project %q (%s)", p.Name, p.ID))
	return nil
}
