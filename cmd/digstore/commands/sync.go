package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/config"
	"github.com/dignetwork/digstore-go/keys"
	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/network"
	"github.com/dignetwork/digstore-go/peersync"
	"github.com/dignetwork/digstore-go/proof"
)

// absenceDBFile is the bbolt file remembering peers that lack resources.
const absenceDBFile = "absence.db"

var (
	rpcFlags     network.RPCConfig
	forceFlag    bool
	bulkFlag     bool
	ownerKeyHex  string
	mnemonicFlag string
	keyIndex     uint32
	peerUser     string
	peerPassword string
)

var pullCmd = &cobra.Command{
	Use:   "pull [store-id...]",
	Short: "Bring local stores up to the root history published on the ledger",
	Long: `Download the snapshots and blobs of every root published for a store that
the local copy lacks, failing over between peers. With no arguments the
--store flag names the store; several ids are pulled concurrently.`,
	RunE: runPull,
}

var pushCmd = &cobra.Command{
	Use:   "push <peer>",
	Short: "Upload the generations a peer is missing",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

var checkPeerCmd = &cobra.Command{
	Use:   "check-peer <peer> <key>",
	Short: "Check that a peer serves a key intact at a root",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckPeer,
}

func init() {
	for _, c := range []*cobra.Command{pullCmd, checkPeerCmd} {
		c.Flags().StringVar(&rpcFlags.URL, "rpc-url", "", "ledger node JSON-RPC URL (env DIG_RPC_URL)")
		c.Flags().StringVar(&rpcFlags.User, "rpc-user", "", "ledger node RPC user (env DIG_RPC_USER)")
		c.Flags().StringVar(&rpcFlags.Password, "rpc-password", "", "ledger node RPC password (env DIG_RPC_PASS)")
	}
	pullCmd.Flags().BoolVar(&forceFlag, "force", false, "re-download snapshots and blobs already present")

	pushCmd.Flags().BoolVar(&bulkFlag, "bulk", false, "upload every file regardless of what the peer has")
	pushCmd.Flags().StringVar(&ownerKeyHex, "key", "", "owner private key in hex (env DIG_OWNER_KEY)")
	pushCmd.Flags().StringVar(&mnemonicFlag, "mnemonic", "", "derive the owner key from a BIP39 mnemonic (env DIG_OWNER_MNEMONIC)")
	pushCmd.Flags().Uint32Var(&keyIndex, "key-index", 0, "account index for --mnemonic")
	pushCmd.Flags().StringVar(&peerUser, "user", "", "peer upload user (env DIG_PEER_USER)")
	pushCmd.Flags().StringVar(&peerPassword, "password", "", "peer upload password (env DIG_PEER_PASS)")

	checkPeerCmd.Flags().StringVar(&rootFlag, "root", "", "root hash (default: last root on the ledger)")
	checkPeerCmd.Flags().BoolVar(&hexKeys, "hex", false, "key is hex encoded")
}

func envOr(v, name string) string {
	if v != "" {
		return v
	}
	return os.Getenv(name)
}

// buildCatalog connects to the ledger node, caching peer sets and falling
// back to DNS seeds when configured. Flags and the config file take
// precedence over the environment, which beats network presets.
func buildCatalog(cfg config.Config) (network.PeerCatalog, error) {
	merged := cfg.RPC()
	if rpcFlags.URL != "" {
		merged.URL = rpcFlags.URL
	}
	if rpcFlags.User != "" {
		merged.User = rpcFlags.User
	}
	if rpcFlags.Password != "" {
		merged.Password = rpcFlags.Password
	}
	env := map[string]string{
		"DIG_RPC_URL":  os.Getenv("DIG_RPC_URL"),
		"DIG_RPC_USER": os.Getenv("DIG_RPC_USER"),
		"DIG_RPC_PASS": os.Getenv("DIG_RPC_PASS"),
	}
	rpcCfg, err := network.ResolveConfig(merged, env, cfg.Network)
	if err != nil {
		return nil, err
	}

	var catalog network.PeerCatalog = network.NewCachedCatalog(network.NewRPCClient(*rpcCfg), cfg.PeerCacheTTL)
	if cfg.DNSSeed != "" {
		catalog = &network.SeededCatalog{PeerCatalog: catalog, Seeder: network.NewDNSSeeder(""), Domain: cfg.DNSSeed}
	}
	return catalog, nil
}

// newEngine builds a sync engine over the data directory. The returned
// closer releases the absence database.
func newEngine(cfg config.Config, catalog network.PeerCatalog, opts ...peersync.Option) (*peersync.Engine, func(), error) {
	absent, err := peersync.OpenBoltAbsenceStore(filepath.Join(cfg.DataDir, absenceDBFile), cfg.AbsenceTTL)
	if err != nil {
		return nil, nil, err
	}
	base := []peersync.Option{
		peersync.WithSelf(cfg.PublicAddr),
		peersync.WithSampleSize(cfg.PeerSampleSize),
		peersync.WithRetryPolicy(cfg.RetryPolicy()),
		peersync.WithAbsenceStore(absent),
	}
	engine := peersync.NewEngine(catalog, cfg.DataDir, append(base, opts...)...)
	return engine, func() { absent.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func progressPrinter(cmd *cobra.Command) func(peersync.Progress) {
	return func(p peersync.Progress) {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s %s (%d bytes)\n", p.Done, p.Total, p.Peer, p.Resource, p.Bytes)
	}
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var ids []ledger.StoreID
	for _, a := range args {
		id, err := ledger.ParseStoreID(a)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		id, err := storeID()
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	catalog, err := buildCatalog(cfg)
	if err != nil {
		return err
	}
	engine, closeEngine, err := newEngine(cfg, catalog)
	if err != nil {
		return err
	}
	defer closeEngine()

	ctx, cancel := signalContext()
	defer cancel()

	opts := peersync.PullOptions{Force: forceFlag, Progress: progressPrinter(cmd)}
	results, err := engine.PullAll(ctx, ids, opts)
	for _, id := range ids {
		if res, ok := results[id]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d roots, %d new, %d snapshots, %d blobs, %d bytes\n",
				id, res.Roots, res.Appended, res.Snapshots, res.Blobs, res.Bytes)
		}
	}
	return err
}

// ownerKey loads the signing key from flags or the environment.
func ownerKey() (*keys.KeyPair, error) {
	if k := envOr(ownerKeyHex, "DIG_OWNER_KEY"); k != "" {
		return keys.KeyPairFromHex(k)
	}
	if m := envOr(mnemonicFlag, "DIG_OWNER_MNEMONIC"); m != "" {
		return keys.KeyPairFromMnemonic(m, "", keyIndex)
	}
	return nil, errors.New("an owner key is required: --key, --mnemonic, DIG_OWNER_KEY or DIG_OWNER_MNEMONIC")
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := storeID()
	if err != nil {
		return err
	}
	owner, err := ownerKey()
	if err != nil {
		return err
	}

	var creds *peersync.Credentials
	if user := envOr(peerUser, "DIG_PEER_USER"); user != "" {
		creds = &peersync.Credentials{Username: user, Password: envOr(peerPassword, "DIG_PEER_PASS")}
	}
	engine, closeEngine, err := newEngine(cfg, &network.StaticCatalog{},
		peersync.WithSigner(owner),
		peersync.WithClient(peersync.NewClient(nil, creds)),
	)
	if err != nil {
		return err
	}
	defer closeEngine()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := engine.Push(ctx, id, args[0], peersync.PushOptions{Bulk: bulkFlag, Progress: progressPrinter(cmd)})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d files (%d bytes), peer at generation %d\n", res.Files, res.Bytes, res.Generation)
	return nil
}

func runCheckPeer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := storeID()
	if err != nil {
		return err
	}
	key, err := parseKey(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var root merkle.Hash
	if rootFlag != "" {
		if root, err = merkle.ParseHash(rootFlag); err != nil {
			return err
		}
	} else {
		catalog, err := buildCatalog(cfg)
		if err != nil {
			return err
		}
		history, err := catalog.RootHistory(ctx, id.String())
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return peersync.ErrNoRootHistory
		}
		if root, err = merkle.ParseHash(history[len(history)-1].RootHash); err != nil {
			return err
		}
	}

	svc := proof.NewService(nil,
		proof.WithRetryPolicy(cfg.RetryPolicy()),
		proof.WithLogger(digstore.Component("check-peer")),
	)
	hexKey := ledger.NewFileEntry(key, merkle.Zero).HexKey()
	ok, err := svc.CheckPeer(ctx, peersync.NewClient(nil, nil), id, args[0], root, hexKey)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s does not serve %s intact at %s\n", args[0], hexKey, root)
		return fmt.Errorf("peer check failed")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s serves %s intact at %s\n", args[0], hexKey, root)
	return nil
}
