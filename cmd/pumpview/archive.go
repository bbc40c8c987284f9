package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Suhridx/pump-dashboard/archive"
	"github.com/Suhridx/pump-dashboard/errors"
)

func newArchiveCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse the device log archive",
	}
	cmd.AddCommand(newArchiveListCmd(opts), newArchiveFetchCmd(opts))
	return cmd
}

func (o *cliOptions) archiveClient(stderr io.Writer) (*archive.Client, error) {
	if err := o.load(stderr); err != nil {
		return nil, err
	}
	if !o.cfg.Archive.Enabled() {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: archive.base_url is not set", errors.ErrMissingConfig),
			"main", "archive", "check config")
	}
	return newArchiveClient(o.cfg.Archive, nil, o.logger)
}

func newArchiveListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archive folders and their files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.archiveClient(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			folders, err := client.ListFolders(cmd.Context())
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), folders)
		},
	}
}

func newArchiveFetchCmd(opts *cliOptions) *cobra.Command {
	var levels bool

	cmd := &cobra.Command{
		Use:   "fetch <folder> <file>",
		Short: "Print one archived file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.archiveClient(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			doc := client.Fetch(cmd.Context(), args[0], args[1])
			if doc.Failed {
				return errors.WrapTransient(
					fmt.Errorf("%w: %s", errors.ErrArchiveUnavailable, doc.Text),
					"main", "archive fetch", "fetch "+args[0]+"/"+args[1])
			}
			if !levels {
				_, err := io.WriteString(cmd.OutOrStdout(), doc.Text)
				return err
			}
			records, skipped := archive.ParseLevelLog(doc.Text)
			opts.logger.Info("Parsed level log", "records", len(records), "skipped", skipped)
			return writeIndented(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&levels, "levels", false, "parse the file as a level log and print the records as JSON")
	return cmd
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
