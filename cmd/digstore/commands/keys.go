package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"github.com/spf13/cobra"

	"github.com/dignetwork/digstore-go/keys"
	"github.com/dignetwork/digstore-go/peer"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a store-owner mnemonic and print its key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return err
		}
		kp, err := keys.KeyPairFromMnemonic(mnemonic, "", keyIndex)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mnemonic:    %s\n", mnemonic)
		fmt.Fprintf(out, "path:        %s\n", kp.Path)
		fmt.Fprintf(out, "private key: %s\n", hex.EncodeToString(kp.PrivateKey.Serialize()))
		fmt.Fprintf(out, "public key:  %s\n", kp.PublicKeyHex())
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd <password>",
	Short: "Print the bcrypt hash to use as authpasswordhash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := peer.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	keygenCmd.Flags().Uint32Var(&keyIndex, "key-index", 0, "account index to derive")
}
