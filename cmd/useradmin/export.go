package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"useradmin/internal/pipeline"
)

func exportCommand() *cobra.Command {
	var (
		out     string
		encoded bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every user to a binary export file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configFrom(cmd.Context()), false)
			if err != nil {
				return err
			}
			defer a.Close()

			payload, n, err := a.users.Export(cmd.Context())
			if err != nil {
				return err
			}
			if encoded {
				payload = []byte(base64.StdEncoding.EncodeToString(payload) + "\n")
			}
			if err := writeOutput(cmd.OutOrStdout(), out, payload); err != nil {
				return err
			}
			log.Info("export written", "records", n, "bytes", len(payload), "out", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&encoded, "base64", false, "write base64 text instead of raw bytes")
	return cmd
}

// verifyCommand checks an export offline. It needs neither the database
// nor the signing keys: every record carries its own public key.
func verifyCommand() *cobra.Command {
	var (
		in      string
		encoded bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every record of a binary export; fails if any record does not verify",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readInput(cmd.InOrStdin(), in)
			if err != nil {
				return err
			}
			if encoded {
				payload, err = base64.StdEncoding.DecodeString(string(bytes.TrimSpace(payload)))
				if err != nil {
					return fmt.Errorf("decoding base64 input: %w", err)
				}
			}
			cfg := configFrom(cmd.Context())
			p := pipeline.New(pipeline.Config{Concurrency: cfg.Server.VerifyConcurrency})
			list, results, err := p.VerifyExport(cmd.Context(), payload)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			failed := 0
			for i, r := range list.Records {
				res := results[i]
				if res.Valid {
					fmt.Fprintf(w, "%6d  %-40s  valid\n", r.ID, r.Email)
					continue
				}
				failed++
				fmt.Fprintf(w, "%6d  %-40s  INVALID: %s\n", r.ID, r.Email, res.Reason)
			}
			total := len(list.Records)
			fmt.Fprintf(w, "%d records, %d valid, %d invalid (exported at %s)\n",
				total, total-failed, failed, list.ExportedAt)
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed verification", failed, total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "input file, - for stdin")
	cmd.Flags().BoolVar(&encoded, "base64", false, "input is base64 text")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" || path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("input file %s does not exist", path)
	}
	return data, err
}
