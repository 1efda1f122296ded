package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/proof"
)

var (
	rootFlag string
	hexKeys  bool
	fileFlag string
	allFlag  bool
)

func storeCommands() []*cobra.Command {
	upsertCmd := &cobra.Command{
		Use:   "upsert <key> <file|-> [<key> <file|-> ...]",
		Short: "Store content under keys and commit",
		Long: `Store the content of each file under its key, then commit the new state.
A file of "-" reads standard input. Keys are taken as raw bytes unless --hex
is given.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected key/file pairs, got %d arguments", len(args))
			}
			return nil
		},
		RunE: runUpsert,
	}
	upsertCmd.Flags().BoolVar(&hexKeys, "hex", false, "keys are hex encoded")

	deleteCmd := &cobra.Command{
		Use:   "delete <key>...",
		Short: "Remove keys and commit",
		Args:  cobra.ArbitraryArgs,
		RunE:  runDelete,
	}
	deleteCmd.Flags().BoolVar(&hexKeys, "hex", false, "keys are hex encoded")
	deleteCmd.Flags().BoolVar(&allFlag, "all", false, "remove every key")

	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit the current state; creates the genesis root of a new store",
		Args:  cobra.NoArgs,
		RunE:  runCommit,
	}

	rootHashCmd := &cobra.Command{
		Use:   "root",
		Short: "Print the last committed root and the generation count",
		Args:  cobra.NoArgs,
		RunE:  runRoot,
	}

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "List the hex keys at a root",
		Args:  cobra.NoArgs,
		RunE:  runKeys,
	}
	keysCmd.Flags().StringVar(&rootFlag, "root", "", "root hash (default: last committed)")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Write the content stored under a key to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	getCmd.Flags().StringVar(&rootFlag, "root", "", "root hash (default: last committed)")
	getCmd.Flags().BoolVar(&hexKeys, "hex", false, "key is hex encoded")

	proofCmd := &cobra.Command{
		Use:   "proof <key>",
		Short: "Print an inclusion proof token for a key",
		Args:  cobra.ExactArgs(1),
		RunE:  runProof,
	}
	proofCmd.Flags().StringVar(&rootFlag, "root", "", "root hash (default: last committed)")
	proofCmd.Flags().BoolVar(&hexKeys, "hex", false, "key is hex encoded")

	verifyCmd := &cobra.Command{
		Use:   "verify <token> [content-hash]",
		Short: "Check a proof token against a content hash or --file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&fileFlag, "file", "", "hash this file instead of passing a content hash")

	diffCmd := &cobra.Command{
		Use:   "diff <root-a> <root-b>",
		Short: "List keys added, deleted and modified between two roots",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff,
	}

	return []*cobra.Command{upsertCmd, deleteCmd, commitCmd, rootHashCmd, keysCmd, getCmd, proofCmd, verifyCmd, diffCmd}
}

func parseKey(arg string) ([]byte, error) {
	if hexKeys {
		return ledger.DecodeKey(arg)
	}
	return []byte(arg), nil
}

func parseRoot(l *ledger.Ledger) (merkle.Hash, error) {
	if rootFlag != "" {
		return merkle.ParseHash(rootFlag)
	}
	return l.LastRoot()
}

func runUpsert(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	for i := 0; i < len(args); i += 2 {
		key, err := parseKey(args[i])
		if err != nil {
			return err
		}
		var r io.Reader = cmd.InOrStdin()
		if args[i+1] != "-" {
			f, err := os.Open(args[i+1])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		e, changed, err := l.UpsertKey(r, key)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", args[i], err)
		}
		state := "unchanged"
		if changed {
			state = "stored"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", state, e.HexKey(), e.ContentHash)
	}
	return commit(cmd, l)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if allFlag == (len(args) > 0) {
		return fmt.Errorf("give keys or --all")
	}
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	if allFlag {
		l.DeleteAllLeaves()
	}
	for _, arg := range args {
		key, err := parseKey(arg)
		if err != nil {
			return err
		}
		if !l.DeleteKey(key) {
			fmt.Fprintf(cmd.ErrOrStderr(), "key %s not present\n", arg)
		}
	}
	return commit(cmd, l)
}

func runCommit(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	return commit(cmd, l)
}

func commit(cmd *cobra.Command, l *ledger.Ledger) error {
	root, written, err := l.Commit()
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(cmd.OutOrStdout(), "committed %s\n", root)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "no changes, root %s\n", root)
	}
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	manifest, err := l.Manifest()
	if err != nil {
		return err
	}
	if len(manifest) == 0 {
		return ledger.ErrNoCommits
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (generation %d)\n", manifest[len(manifest)-1], len(manifest)-1)
	return nil
}

func runKeys(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	root, err := parseRoot(l)
	if err != nil {
		return err
	}
	keys, err := l.ListKeys(&root)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}

func lookup(l *ledger.Ledger, arg string) (ledger.FileEntry, merkle.Hash, error) {
	key, err := parseKey(arg)
	if err != nil {
		return ledger.FileEntry{}, merkle.Hash{}, err
	}
	root, err := parseRoot(l)
	if err != nil {
		return ledger.FileEntry{}, merkle.Hash{}, err
	}
	snap, err := l.LoadSnapshot(root)
	if err != nil {
		return ledger.FileEntry{}, merkle.Hash{}, err
	}
	e, err := snap.Lookup(hex.EncodeToString(key))
	return e, root, err
}

func runGet(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	e, root, err := lookup(l, args[0])
	if err != nil {
		return err
	}
	rc, err := l.GetValueStream(e.HexKey(), &root)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(cmd.OutOrStdout(), rc)
	return err
}

func runProof(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	e, root, err := lookup(l, args[0])
	if err != nil {
		return err
	}
	token, err := proof.NewService(l).Prove(e.HexKey(), e.ContentHash, &root)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}

	var contentHash merkle.Hash
	switch {
	case len(args) == 2:
		if contentHash, err = merkle.ParseHash(args[1]); err != nil {
			return err
		}
	case fileFlag != "":
		f, err := os.Open(fileFlag)
		if err != nil {
			return err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		copy(contentHash[:], h.Sum(nil))
	default:
		return fmt.Errorf("give a content hash or --file")
	}

	if !proof.NewService(l).Verify(args[0], contentHash) {
		fmt.Fprintln(cmd.OutOrStdout(), "invalid")
		return fmt.Errorf("proof does not verify")
	}
	desc, err := proof.Describe(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", desc)
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger()
	if err != nil {
		return err
	}
	a, err := merkle.ParseHash(args[0])
	if err != nil {
		return err
	}
	b, err := merkle.ParseHash(args[1])
	if err != nil {
		return err
	}
	d, err := l.GetRootDiff(a, b)
	if err != nil {
		return err
	}
	for _, section := range []struct {
		mark    string
		entries map[string]merkle.Hash
	}{{"+", d.Added}, {"-", d.Deleted}, {"~", d.Modified}} {
		keys := make([]string, 0, len(section.entries))
		for k := range section.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", section.mark, k, section.entries[k])
		}
	}
	return nil
}
