package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/solarb/wallet"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signer keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "public key: %s\n", key.PublicKey())
		if keygenOut == "" {
			fmt.Fprintf(out, "private key: %s\n", wallet.EncodeKey(key))
			return nil
		}

		// solana-keygen layout: a JSON array of the 64 key bytes
		raw := make([]int, len(key))
		for i, b := range key {
			raw[i] = int(b)
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		if err := os.WriteFile(keygenOut, data, 0o600); err != nil {
			return fmt.Errorf("failed to write keypair: %w", err)
		}
		fmt.Fprintf(out, "keypair written to %s\n", keygenOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "write a solana-keygen compatible keypair file instead of printing the key")
}
