package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"useradmin/internal/keystore"
	"useradmin/internal/store"
)

func keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and rotate the signing keypair",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current public key and the key history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKeys(cmd, func(ks *keystore.KeyStore) error {
				return printKeys(cmd.OutOrStdout(), ks)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Replace the signing keypair; existing signatures stay verifiable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKeys(cmd, func(ks *keystore.KeyStore) error {
				if err := ks.Rotate(); err != nil {
					return err
				}
				return printKeys(cmd.OutOrStdout(), ks)
			})
		},
	})
	return cmd
}

func withKeys(cmd *cobra.Command, fn func(*keystore.KeyStore) error) error {
	ks, history, err := openKeys(configFrom(cmd.Context()))
	if err != nil {
		return err
	}
	defer history.Close()
	if err := ks.Initialize(); err != nil {
		return fmt.Errorf("initializing signing keys: %w", err)
	}
	return fn(ks)
}

func printKeys(w io.Writer, ks *keystore.KeyStore) error {
	info, err := ks.Info()
	if err != nil {
		return err
	}
	history, err := ks.History()
	if err != nil {
		return err
	}
	out := struct {
		Current keystore.Info     `json:"current"`
		History []store.KeyRecord `json:"history"`
	}{info, history}
	if out.History == nil {
		out.History = []store.KeyRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
