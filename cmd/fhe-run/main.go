// fhe-run drives the circuit runtime from the command line: generate a
// key, encrypt argument values, evaluate a compiled circuit over the
// encrypted bits, and decrypt the results.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/malchev/fully-homomorphic-encryption/core/argfmt"
	"github.com/malchev/fully-homomorphic-encryption/core/meta"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
	"github.com/malchev/fully-homomorphic-encryption/runtime/runner"
)

const (
	backendCleartext = "cleartext"
	backendMasked    = "masked"
)

// scheme is the combined surface the CLI needs: gate evaluation plus
// ciphertext serialization.
type scheme interface {
	gates.Scheme
	gates.Codec
}

func newScheme(backend string) (scheme, error) {
	switch backend {
	case backendCleartext:
		return gates.NewCleartext(), nil
	case backendMasked:
		return gates.NewMasked(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use %s or %s)", backend, backendCleartext, backendMasked)
	}
}

// loadKeys returns the secret key (nil for cleartext) and the cloud key
// for the chosen backend.
func loadKeys(backend, keyPath string) (*gates.SecretKey, gates.CloudKey, error) {
	if backend == backendCleartext {
		return nil, &gates.ClearKey{}, nil
	}
	if keyPath == "" {
		return nil, nil, fmt.Errorf("the %s backend needs --key", backend)
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading key file: %w", err)
	}
	sk, err := gates.LoadSecretKey(data)
	if err != nil {
		return nil, nil, err
	}
	return sk, sk.Cloud(), nil
}

// sealBits encrypts plaintext bits under the chosen backend.
func sealBits(s scheme, sk *gates.SecretKey, bits []uint8) []gates.Ciphertext {
	switch b := s.(type) {
	case *gates.Cleartext:
		return b.Encrypt(bits)
	case *gates.Masked:
		return b.Encrypt(sk, bits)
	}
	return nil
}

// openBits decrypts ciphertexts under the chosen backend.
func openBits(s scheme, sk *gates.SecretKey, cts []gates.Ciphertext) []uint8 {
	switch b := s.(type) {
	case *gates.Cleartext:
		return b.Decrypt(cts)
	case *gates.Masked:
		return b.Decrypt(sk, cts)
	}
	return nil
}

func main() {
	root := &cobra.Command{
		Use:           "fhe-run",
		Short:         "Evaluate compiled boolean circuits over encrypted bits",
		SilenceErrors: true,
	}
	root.AddCommand(keygenCmd(), encryptCmd(), runCmd(), decryptCmd(), inspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secret key for the masked backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := gates.GenerateSecretKey()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, sk.Bytes(), 0o600); err != nil {
				return fmt.Errorf("writing key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "fhe_secret.key", "Key file to write")
	return cmd
}

func encryptCmd() *cobra.Command {
	var metaPath, keyPath, backend, out string
	cmd := &cobra.Command{
		Use:   "encrypt name=value...",
		Short: "Encrypt argument values into an argument archive",
		Long: "Encrypts one integer value per parameter of the entry function.\n" +
			"Bits are taken little-endian; output-binding parameters default to zero.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := meta.Load(metaPath)
			if err != nil {
				return err
			}
			s, err := newScheme(backend)
			if err != nil {
				return err
			}
			sk, _, err := loadKeys(backend, keyPath)
			if err != nil {
				return err
			}

			values := make(map[string]uint64, len(args))
			for _, arg := range args {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("argument %q is not name=value", arg)
				}
				if _, bound := md.Param(name); !bound {
					return fmt.Errorf("metadata has no parameter %q", name)
				}
				v, err := strconv.ParseUint(raw, 0, 64)
				if err != nil {
					return fmt.Errorf("argument %s: %w", name, err)
				}
				values[name] = v
			}

			named := make(map[string][]gates.Ciphertext, len(md.Params))
			for _, p := range md.Params {
				v, given := values[p.Name]
				if !given && !p.OutputBinding() {
					return fmt.Errorf("parameter %q needs a value", p.Name)
				}
				named[p.Name] = sealBits(s, sk, gates.BitsOf(v, p.Type.FlatBitCount()))
			}

			archive, err := argfmt.Seal(s, s, named)
			if err != nil {
				return err
			}
			return writeArchive(out, archive, cmd)
		},
	}
	cmd.Flags().StringVarP(&metaPath, "meta", "m", "", "Metadata file (required)")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "Secret key file (masked backend)")
	cmd.Flags().StringVarP(&backend, "backend", "b", backendMasked, "Gate backend: cleartext or masked")
	cmd.Flags().StringVarP(&out, "out", "o", "args.fheb", "Argument archive to write")
	_ = cmd.MarkFlagRequired("meta")
	return cmd
}

func runCmd() *cobra.Command {
	var irPath, metaPath, argsPath, keyPath, backend, out string
	var workers int
	var timing, watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a circuit over an encrypted argument archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newScheme(backend)
			if err != nil {
				return err
			}
			_, cloud, err := loadKeys(backend, keyPath)
			if err != nil {
				return err
			}

			once := func() error {
				return runOnce(cmd, s, cloud, irPath, metaPath, argsPath, out, workers, timing)
			}
			if err := once(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchAndRerun(cmd, once, irPath, argsPath)
		},
	}
	cmd.Flags().StringVar(&irPath, "ir", "", "Circuit IR file (required)")
	cmd.Flags().StringVarP(&metaPath, "meta", "m", "", "Metadata file (required)")
	cmd.Flags().StringVarP(&argsPath, "args", "a", "args.fheb", "Encrypted argument archive")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "Secret key file (masked backend)")
	cmd.Flags().StringVarP(&backend, "backend", "b", backendMasked, "Gate backend: cleartext or masked")
	cmd.Flags().StringVarP(&out, "out", "o", "result.fheb", "Result archive to write")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size (0 = 2x CPUs)")
	cmd.Flags().BoolVar(&timing, "timing", false, "Print per-round timing")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-run whenever the IR or argument file changes")
	_ = cmd.MarkFlagRequired("ir")
	_ = cmd.MarkFlagRequired("meta")
	return cmd
}

// runOnce loads everything fresh, evaluates, and writes the result
// archive: the primary return value plus every output-binding parameter.
func runOnce(cmd *cobra.Command, s scheme, cloud gates.CloudKey,
	irPath, metaPath, argsPath, out string, workers int, timing bool,
) error {
	cfg := runner.Config{Workers: workers}
	if timing {
		cfg.Telemetry = runner.TelemetryTiming
	}
	r, err := runner.NewFromFiles(irPath, metaPath, s, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Open(argsPath)
	if err != nil {
		return fmt.Errorf("opening argument archive: %w", err)
	}
	archive, _, err := argfmt.Read(f)
	f.Close()
	if err != nil {
		return err
	}
	if archive.Scheme != s.Name() {
		return fmt.Errorf("argument archive was sealed with scheme %q, backend is %q",
			archive.Scheme, s.Name())
	}
	args, err := archive.Open(s)
	if err != nil {
		return err
	}

	var result []gates.Ciphertext
	if n := r.PrimaryReturnBits(); n > 0 {
		result = make([]gates.Ciphertext, n)
		for i := range result {
			result[i] = s.NewCiphertext(cloud)
		}
	}

	res, err := r.Run(result, args, cloud)
	if err != nil {
		return err
	}

	outputs := make(map[string][]gates.Ciphertext)
	if result != nil {
		outputs["return"] = result
	}
	for _, p := range r.Metadata().OutputBindings() {
		outputs[p.Name] = args[p.Name]
	}
	sealed, err := argfmt.Seal(s, s, outputs)
	if err != nil {
		return err
	}
	if err := writeArchive(out, sealed, cmd); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d nodes in %d rounds (%d gate calls, %v)\n",
		res.NodesEvaluated, res.Rounds, res.GateCalls, res.Duration)
	if timing {
		for _, rt := range res.RoundTimings {
			fmt.Fprintf(cmd.OutOrStdout(), "  round %d: %d nodes, %d gates, %v\n",
				rt.Round, rt.Nodes, rt.GateCalls, rt.Duration)
		}
	}
	return nil
}

// watchAndRerun re-evaluates whenever a watched file is rewritten, until
// interrupted.
func watchAndRerun(cmd *cobra.Command, once func() error, paths ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	fmt.Fprintln(cmd.OutOrStdout(), "watching for changes (interrupt to stop)")
	for {
		select {
		case ev := <-watcher.Events:
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s changed, re-running\n", ev.Name)
			if err := once(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
		case err := <-watcher.Errors:
			return err
		case <-sig:
			return nil
		}
	}
}

func decryptCmd() *cobra.Command {
	var keyPath, backend string
	cmd := &cobra.Command{
		Use:   "decrypt archive.fheb",
		Short: "Decrypt and print the vectors of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newScheme(backend)
			if err != nil {
				return err
			}
			sk, _, err := loadKeys(backend, keyPath)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			archive, _, err := argfmt.Read(f)
			if err != nil {
				return err
			}
			if archive.Scheme != s.Name() {
				return fmt.Errorf("archive was sealed with scheme %q, backend is %q",
					archive.Scheme, s.Name())
			}
			opened, err := archive.Open(s)
			if err != nil {
				return err
			}

			for _, v := range archive.Vectors {
				bits := openBits(s, sk, opened[v.Name])
				if len(bits) <= 64 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %d\n", v.Name, gates.Uint64Of(bits))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", v.Name, bitString(bits))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "Secret key file (masked backend)")
	cmd.Flags().StringVarP(&backend, "backend", "b", backendMasked, "Gate backend: cleartext or masked")
	return cmd
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect circuit.ir metadata.json",
		Short: "Print a summary of a circuit and its metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runner.NewFromFiles(args[0], args[1], gates.NewCleartext(), runner.Config{Workers: 1})
			if err != nil {
				return err
			}
			defer r.Close()

			fn := r.Function()
			md := r.Metadata()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "package %s, entry %s\n", r.Package().Name(), fn.Name())
			for _, p := range md.Params {
				quals := make([]string, 0, 2)
				if p.IsConst {
					quals = append(quals, "const")
				}
				if p.IsReference {
					quals = append(quals, "reference")
				}
				if p.OutputBinding() {
					quals = append(quals, "output-binding")
				}
				fmt.Fprintf(out, "  param %s: %s (%d bits) %s\n",
					p.Name, p.Type, p.Type.FlatBitCount(), strings.Join(quals, " "))
			}
			if md.Return.AsVoid {
				fmt.Fprintln(out, "  returns void")
			} else {
				fmt.Fprintf(out, "  returns %d bits\n", r.PrimaryReturnBits())
			}

			counts := make(map[string]int)
			gateCount := 0
			for _, n := range fn.Nodes() {
				counts[string(n.Op())]++
				if n.Op().Gate() {
					gateCount++
				}
			}
			fmt.Fprintf(out, "  %d nodes, %d gates\n", len(fn.Nodes()), gateCount)
			for _, op := range sortedKeys(counts) {
				fmt.Fprintf(out, "    %-12s %d\n", op, counts[op])
			}
			return nil
		},
	}
	return cmd
}

func writeArchive(path string, a *argfmt.Archive, cmd *cobra.Command) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if _, err := argfmt.Write(f, a); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func bitString(bits []uint8) string {
	var sb strings.Builder
	for i := len(bits) - 1; i >= 0; i-- {
		sb.WriteByte('0' + bits[i])
	}
	return sb.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
