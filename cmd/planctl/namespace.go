package main

import (
	"errors"

	"github.com/spf13/cobra"

	"planforge/config"
	"planforge/task"
)

// newNamespaceCommand builds `planctl namespace`, grouping the §6
// create/update/delete/list/show subcommands the way hb-chen-opskills
// groups its own resource subcommands under a parent Use.
func newNamespaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "manage tool-allow-list namespaces",
	}
	cmd.AddCommand(newNamespaceCreateCommand())
	cmd.AddCommand(newNamespaceUpdateCommand())
	cmd.AddCommand(newNamespaceDeleteCommand())
	cmd.AddCommand(newNamespaceListCommand())
	cmd.AddCommand(newNamespaceShowCommand())
	return cmd
}

func withTaskStore(cmd *cobra.Command, fn func(d *deps) error) error {
	cfg, err := config.Load()
	if err != nil {
		return withExitCode(4, err)
	}
	d, err := buildDeps(cmd.Context(), cfg)
	if err != nil {
		return withExitCode(4, err)
	}
	defer d.Close()
	return fn(d)
}

func newNamespaceCreateCommand() *cobra.Command {
	var (
		description  string
		allowedTools []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "create a namespace with an allowed-tools list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(cmd, func(d *deps) error {
				ns := task.Namespace{Name: args[0], Description: description, AllowedTools: allowedTools}
				if ns.AllowedTools == nil {
					ns.AllowedTools = []string{}
				}
				if err := d.tasks.PutNamespace(cmd.Context(), ns); err != nil {
					return withExitCode(4, err)
				}
				return printJSON(cmd, ns)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "human-readable namespace description")
	cmd.Flags().StringSliceVar(&allowedTools, "allowed-tools", nil, "comma-separated list of allowed tool names")
	return cmd
}

func newNamespaceUpdateCommand() *cobra.Command {
	var (
		description  string
		allowedTools []string
	)
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "replace a namespace's description and/or allowed-tools list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(cmd, func(d *deps) error {
				existing, err := d.tasks.GetNamespace(cmd.Context(), args[0])
				if err != nil {
					return withExitCode(4, err)
				}
				if description != "" {
					existing.Description = description
				}
				if allowedTools != nil {
					existing.AllowedTools = allowedTools
				}
				if err := d.tasks.PutNamespace(cmd.Context(), existing); err != nil {
					return withExitCode(4, err)
				}
				return printJSON(cmd, existing)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description (unset leaves it unchanged)")
	cmd.Flags().StringSliceVar(&allowedTools, "allowed-tools", nil, "new allowed-tools list (unset leaves it unchanged)")
	return cmd
}

func newNamespaceDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "delete a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "default" {
				return withExitCode(2, errors.New("planctl: the default namespace cannot be deleted"))
			}
			return withTaskStore(cmd, func(d *deps) error {
				if err := d.tasks.DeleteNamespace(cmd.Context(), args[0]); err != nil {
					return withExitCode(4, err)
				}
				return nil
			})
		},
	}
	return cmd
}

func newNamespaceListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list all namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(cmd, func(d *deps) error {
				list, err := d.tasks.ListNamespaces(cmd.Context())
				if err != nil {
					return withExitCode(4, err)
				}
				return printJSON(cmd, list)
			})
		},
	}
	return cmd
}

func newNamespaceShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "print one namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(cmd, func(d *deps) error {
				ns, err := d.tasks.GetNamespace(cmd.Context(), args[0])
				if err != nil {
					return withExitCode(4, err)
				}
				return printJSON(cmd, ns)
			})
		},
	}
	return cmd
}
