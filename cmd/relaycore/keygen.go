package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/freitascorp/relaycore/pkg/certutil"
)

// newKeygenCmd has no direct teacher-CLI equivalent — devopsclaw never
// exposes node-identity key management as its own command, since its relay
// server doesn't hold per-node RSA keys the way relaycore's Service/Gateway
// roles do. It's grounded instead directly on pkg/certutil's own API
// (Generate/EncodePrivateKeyPEM/PublicKeyHash) and follows the teacher's
// other file-writing commands (plain fmt.Printf status lines, 0600 perms
// for anything sensitive).
func newKeygenCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen [path]",
		Short: "Generate this node's RSA identity key pair",
		Long: `keygen writes a fresh 2048-bit RSA private key PEM to the given path
(default node.pem, matching RELAYCORE_PRIVATE_KEY_PEM_PATH's own default) and
prints the public key's SHA-256 hash, which Portals and Agents use to pin
which node they're talking to.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "node.pem"
			if len(args) == 1 {
				path = args[0]
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists; pass --force to overwrite", path)
				}
			}

			key, err := certutil.Generate()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			if err := os.WriteFile(path, certutil.EncodePrivateKeyPEM(key), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}

			hash, err := certutil.PublicKeyHash(&key.PublicKey)
			if err != nil {
				return fmt.Errorf("hash public key: %w", err)
			}

			fmt.Printf("wrote private key to %s\n", path)
			fmt.Printf("public key hash: %s\n", hash)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key file")
	return cmd
}
