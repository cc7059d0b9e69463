// keyledger-cli is the client for a keyledger server. It seals files locally,
// pays the exact fees the server quotes, and signs every mutating request
// with an Ed25519 key file.
//
// Usage:
//
//	keyledger-cli keygen [--out keyledger.key] [--recover "<32 words>"]
//	keyledger-cli quote --file report.pdf
//	keyledger-cli add --file report.pdf --passphrase <secret>
//	keyledger-cli get --index 0 --passphrase <secret> [--out path]
//	keyledger-cli grant --index 0 --to <identity> --passphrase <secret> --share <secret>
//	keyledger-cli has --index 0 [--identity <identity>]
//	keyledger-cli keys [--identity <identity>]
//	keyledger-cli set-fee --param grant_fee --value 10
//	keyledger-cli set-owner --owner <identity>
//	keyledger-cli withdraw
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ssd-technologies/keyledger/internal/crypto"
	"github.com/ssd-technologies/keyledger/internal/registry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	switch os.Args[1] {
	case "keygen":
		cmdKeygen(os.Args[2:])
	case "quote":
		cmdQuote(os.Args[2:])
	case "add":
		cmdAdd(os.Args[2:])
	case "get":
		cmdGet(os.Args[2:])
	case "grant":
		cmdGrant(os.Args[2:])
	case "has":
		cmdHas(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "set-fee":
		cmdSetFee(os.Args[2:])
	case "set-owner":
		cmdSetOwner(os.Args[2:])
	case "withdraw":
		cmdWithdraw(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: keyledger-cli <command> [flags]

Commands:
  keygen     Generate or restore an identity key file
  quote      Show the creation and grant fees for a file
  add        Seal a file and deposit it, paying the creation fee
  get        Fetch and open a file you hold a key for
  grant      Re-wrap your file key for another identity
  has        Check whether an identity holds a key for a file
  keys       List the keys granted to an identity
  set-fee    Change a fee parameter (owner only)
  set-owner  Transfer ownership (owner only)
  withdraw   Sweep the collected balance (owner only)

The server URL and key file default to $KEYLEDGER_URL and $KEYLEDGER_KEY.
Run 'keyledger-cli <command> --help' for details on each command.
`)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// commonFlags registers --server and --key on fs.
func commonFlags(fs *flag.FlagSet) (server, key *string) {
	server = fs.String("server", envOr("KEYLEDGER_URL", "http://localhost:8080"), "keyledger server URL")
	key = fs.String("key", envOr("KEYLEDGER_KEY", "keyledger.key"), "path to Ed25519 seed file")
	return server, key
}

// signedClient loads the key file and returns a signing client.
func signedClient(server, keyPath string) *client {
	key, err := loadKey(keyPath)
	if err != nil {
		logrus.Fatalf("Load key: %v", err)
	}
	return newClient(server, key)
}

func requireFlag(fs *flag.FlagSet, ok bool, msg string) {
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		fs.Usage()
		os.Exit(1)
	}
}

// cmdKeygen writes a fresh (or recovered) seed and prints its identity.
func cmdKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", envOr("KEYLEDGER_KEY", "keyledger.key"), "where to write the seed")
	recoverWords := fs.String("recover", "", "restore the seed from its 32-word mnemonic")
	force := fs.Bool("force", false, "overwrite an existing key file")
	fs.Parse(args)

	if _, err := os.Stat(*out); err == nil && !*force {
		logrus.Fatalf("%s already exists; pass --force to overwrite", *out)
	}

	var seed []byte
	if *recoverWords != "" {
		var err error
		if seed, err = crypto.SeedFromMnemonic(*recoverWords); err != nil {
			logrus.Fatalf("Recover seed: %v", err)
		}
	} else {
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			logrus.Fatalf("Generate seed: %v", err)
		}
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			logrus.Fatalf("Create key directory: %v", err)
		}
	}
	if err := os.WriteFile(*out, seed, 0600); err != nil {
		logrus.Fatalf("Write key file: %v", err)
	}

	c := newClient("", ed25519.NewKeyFromSeed(seed))
	fmt.Printf("Identity key written\n")
	fmt.Printf("  Identity: %s\n", c.identity())
	fmt.Printf("  Saved to: %s\n", *out)
	if *recoverWords == "" {
		fmt.Printf("  Recovery: %s\n", crypto.SeedMnemonic(seed))
	}
}

// fileFlags registers the metadata flags shared by quote and add.
type fileFlags struct {
	path, name, folder, kind *string
}

func newFileFlags(fs *flag.FlagSet) fileFlags {
	return fileFlags{
		path:   fs.String("file", "", "file to deposit (required)"),
		name:   fs.String("name", "", "stored file name (default base name of --file)"),
		folder: fs.String("folder", "", "stored folder"),
		kind:   fs.String("kind", "", "stored content type"),
	}
}

// seal reads the file and seals it under a fresh file key.
func (f fileFlags) seal() (registry.Payload, []byte) {
	content, err := os.ReadFile(*f.path)
	if err != nil {
		logrus.Fatalf("Read file: %v", err)
	}
	name := *f.name
	if name == "" {
		name = filepath.Base(*f.path)
	}
	fileKey, err := crypto.NewFileKey()
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	p, err := crypto.SealPayload(fileKey, crypto.Plaintext{
		Content: content,
		Name:    name,
		Folder:  *f.folder,
		Kind:    *f.kind,
	})
	if err != nil {
		logrus.Fatalf("Seal file: %v", err)
	}
	return p, fileKey
}

func cmdQuote(args []string) {
	fs := flag.NewFlagSet("quote", flag.ExitOnError)
	server, _ := commonFlags(fs)
	ff := newFileFlags(fs)
	fs.Parse(args)
	requireFlag(fs, *ff.path != "", "--file is required")

	p, _ := ff.seal()
	q, err := newClient(*server, nil).quote(payloadSizes(p))
	if err != nil {
		logrus.Fatalf("Quote: %v", err)
	}
	fmt.Printf("Sealed size:  %d bytes\n", p.Size())
	fmt.Printf("Creation fee: %d\n", q.CreationFee)
	fmt.Printf("Grant fee:    %d\n", q.GrantFee)
}

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	ff := newFileFlags(fs)
	passphrase := fs.String("passphrase", os.Getenv("KEYLEDGER_PASSPHRASE"), "passphrase wrapping your copy of the file key")
	fs.Parse(args)
	requireFlag(fs, *ff.path != "", "--file is required")
	requireFlag(fs, *passphrase != "", "--passphrase is required")

	c := signedClient(*server, *keyPath)
	p, fileKey := ff.seal()
	wrapped, err := crypto.WrapKey(fileKey, *passphrase)
	if err != nil {
		logrus.Fatalf("Wrap key: %v", err)
	}
	q, err := c.quote(payloadSizes(p))
	if err != nil {
		logrus.Fatalf("Quote: %v", err)
	}

	req := struct {
		registry.Payload
		WrappedKey []byte `json:"wrapped_key"`
	}{p, wrapped}
	var resp struct {
		Index uint64 `json:"index"`
		Fee   uint64 `json:"fee"`
	}
	if err := c.do(http.MethodPost, "/api/files", req, q.CreationFee, &resp); err != nil {
		logrus.Fatalf("Add file: %v", err)
	}
	fmt.Printf("File stored\n")
	fmt.Printf("  Index: %d\n", resp.Index)
	fmt.Printf("  Paid:  %d\n", resp.Fee)
}

// ownFileKey finds a key granted to the caller for index that opens with
// passphrase.
func ownFileKey(c *client, index uint64, passphrase string) []byte {
	keys, err := c.accessKeys(c.identity())
	if err != nil {
		logrus.Fatalf("List keys: %v", err)
	}
	found := false
	for _, k := range keys {
		if k.FileIndex != index {
			continue
		}
		found = true
		if fileKey, err := crypto.UnwrapKey(k.WrappedKey, passphrase); err == nil {
			return fileKey
		}
	}
	if !found {
		logrus.Fatalf("You hold no key for file %d", index)
	}
	logrus.Fatalf("None of your keys for file %d opens with that passphrase", index)
	return nil
}

func cmdGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	index := fs.Uint64("index", 0, "file index")
	passphrase := fs.String("passphrase", os.Getenv("KEYLEDGER_PASSPHRASE"), "passphrase wrapping your file key")
	out := fs.String("out", "", "output path (default the stored name)")
	fs.Parse(args)
	requireFlag(fs, *passphrase != "", "--passphrase is required")

	c := signedClient(*server, *keyPath)
	fileKey := ownFileKey(c, *index, *passphrase)

	var p registry.Payload
	if err := c.do(http.MethodGet, "/api/files/"+strconv.FormatUint(*index, 10), nil, 0, &p); err != nil {
		logrus.Fatalf("Fetch file: %v", err)
	}
	pt, err := crypto.OpenPayload(fileKey, p)
	if err != nil {
		logrus.Fatalf("Open file: %v", err)
	}

	dest := *out
	if dest == "" {
		dest = filepath.Base(pt.Name)
	}
	if err := os.WriteFile(dest, pt.Content, 0600); err != nil {
		logrus.Fatalf("Write file: %v", err)
	}
	fmt.Printf("File %d written to %s (%d bytes)\n", *index, dest, len(pt.Content))
	if pt.Folder != "" || pt.Kind != "" {
		fmt.Printf("  Folder: %s\n  Kind:   %s\n", pt.Folder, pt.Kind)
	}
}

func cmdGrant(args []string) {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	index := fs.Uint64("index", 0, "file index")
	to := fs.String("to", "", "grantee identity (required)")
	passphrase := fs.String("passphrase", os.Getenv("KEYLEDGER_PASSPHRASE"), "passphrase wrapping your file key")
	share := fs.String("share", "", "passphrase to wrap the grantee's copy with (required)")
	fs.Parse(args)
	requireFlag(fs, *to != "", "--to is required")
	requireFlag(fs, *passphrase != "" && *share != "", "--passphrase and --share are required")

	c := signedClient(*server, *keyPath)
	fileKey := ownFileKey(c, *index, *passphrase)
	wrapped, err := crypto.WrapKey(fileKey, *share)
	if err != nil {
		logrus.Fatalf("Wrap key: %v", err)
	}
	f, err := c.fees()
	if err != nil {
		logrus.Fatalf("Fetch fees: %v", err)
	}

	grantee := canonicalIdentity(*to)
	req := map[string]any{"grantee": grantee, "wrapped_key": wrapped}
	path := "/api/files/" + strconv.FormatUint(*index, 10) + "/grants"
	if err := c.do(http.MethodPost, path, req, f.GrantFee, nil); err != nil {
		logrus.Fatalf("Grant: %v", err)
	}
	fmt.Printf("Granted file %d to %s (paid %d)\n", *index, grantee, f.GrantFee)
}

// identityFlag resolves --identity, defaulting to the key file's identity.
func identityFlag(identity, keyPath string) string {
	if identity != "" {
		return canonicalIdentity(identity)
	}
	key, err := loadKey(keyPath)
	if err != nil {
		logrus.Fatalf("No --identity given and %v", err)
	}
	return newClient("", key).identity()
}

func cmdHas(args []string) {
	fs := flag.NewFlagSet("has", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	index := fs.Uint64("index", 0, "file index")
	identity := fs.String("identity", "", "identity to check (default your own)")
	fs.Parse(args)

	id := identityFlag(*identity, *keyPath)
	var resp struct {
		HasAccess bool `json:"has_access"`
	}
	path := "/api/access/" + id + "/" + strconv.FormatUint(*index, 10)
	if err := newClient(*server, nil).do(http.MethodGet, path, nil, 0, &resp); err != nil {
		logrus.Fatalf("Check access: %v", err)
	}
	fmt.Println(resp.HasAccess)
	if !resp.HasAccess {
		os.Exit(2)
	}
}

func cmdKeys(args []string) {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	identity := fs.String("identity", "", "identity to list (default your own)")
	fs.Parse(args)

	keys, err := newClient(*server, nil).accessKeys(identityFlag(*identity, *keyPath))
	if err != nil {
		logrus.Fatalf("List keys: %v", err)
	}
	if len(keys) == 0 {
		fmt.Println("No keys.")
		return
	}
	fmt.Printf("%-6s  %-8s  %s\n", "FILE", "SEQ", "GRANTOR")
	for _, k := range keys {
		fmt.Printf("%-6d  %-8d  %s\n", k.FileIndex, k.Sequence, k.Grantor)
	}
}

func cmdSetFee(args []string) {
	fs := flag.NewFlagSet("set-fee", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	param := fs.String("param", "", "base_fee, bytes_fee_multiplier or grant_fee")
	value := fs.String("value", "", "new value")
	fs.Parse(args)
	requireFlag(fs, *param != "" && *value != "", "--param and --value are required")

	v, err := strconv.ParseUint(*value, 10, 64)
	if err != nil {
		logrus.Fatalf("Invalid --value: %v", err)
	}
	c := signedClient(*server, *keyPath)
	if err := c.do(http.MethodPut, "/api/admin/fees/"+*param, map[string]uint64{"value": v}, 0, nil); err != nil {
		logrus.Fatalf("Set fee: %v", err)
	}
	fmt.Printf("%s set to %d\n", *param, v)
}

func cmdSetOwner(args []string) {
	fs := flag.NewFlagSet("set-owner", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	owner := fs.String("owner", "", "new owner identity (required)")
	fs.Parse(args)
	requireFlag(fs, *owner != "", "--owner is required")

	c := signedClient(*server, *keyPath)
	if err := c.do(http.MethodPut, "/api/admin/owner", map[string]string{"owner": canonicalIdentity(*owner)}, 0, nil); err != nil {
		logrus.Fatalf("Set owner: %v", err)
	}
	fmt.Printf("Owner set to %s\n", *owner)
}

func cmdWithdraw(args []string) {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	server, keyPath := commonFlags(fs)
	fs.Parse(args)

	c := signedClient(*server, *keyPath)
	var resp struct {
		Amount uint64 `json:"amount"`
	}
	err := c.do(http.MethodPost, "/api/admin/withdraw", nil, 0, &resp)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		fmt.Println("Nothing to withdraw.")
		return
	}
	if err != nil {
		logrus.Fatalf("Withdraw: %v", err)
	}
	fmt.Printf("Withdrew %d to %s\n", resp.Amount, c.identity())
}
