package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/nestling/internal/api"
	"github.com/miradorstack/nestling/internal/config"
	"github.com/miradorstack/nestling/internal/secrets"
	"github.com/miradorstack/nestling/internal/storage"
	"github.com/miradorstack/nestling/internal/utils"
)

type rootOptions struct {
	configPath string
	address    string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "nestlingctl",
		Short:         "Query and feed the nestling insight engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.address, "addr", "", "Engine gRPC address (defaults to server.address from config)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 45*time.Second, "Request timeout")

	root.AddCommand(newAnalyzeCmd(opts), newRecordCmd(opts), newCredentialCmd(opts), newDeviceCmd(opts))
	return root
}

// --- analyze ---

type analyzeOptions struct {
	babyID        string
	start         string
	end           string
	days          int
	birthDate     string
	cloud         bool
	wifiOnly      bool
	anonymizeData bool
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a sleep, routine or prediction analysis",
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.babyID, "baby", "", "Baby identifier")
	flags.StringVar(&opts.start, "start", "", "Range start (RFC3339)")
	flags.StringVar(&opts.end, "end", "", "Range end (RFC3339)")
	flags.IntVar(&opts.days, "days", 0, "Analyze the last N days when no range is given")
	flags.StringVar(&opts.birthDate, "birth-date", "", "Birth date (RFC3339), sent only with --anonymize=false")
	flags.BoolVar(&opts.cloud, "cloud", false, "Allow cloud analysis")
	flags.BoolVar(&opts.wifiOnly, "wifi-only", true, "Only use the cloud on Wi-Fi")
	flags.BoolVar(&opts.anonymizeData, "anonymize", true, "Strip age information from cloud payloads")
	_ = cmd.MarkPersistentFlagRequired("baby")

	subcommands := []struct {
		use    string
		short  string
		method string
	}{
		{"sleep", "Analyze sleep patterns", api.MethodAnalyzeSleep},
		{"routine", "Analyze routine regularity", api.MethodAnalyzeRoutine},
		{"predict", "Predict the next sleep and feeding", api.MethodGeneratePrediction},
	}
	for _, sc := range subcommands {
		method := sc.method
		cmd.AddCommand(&cobra.Command{
			Use:   sc.use,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				req, err := opts.request(cmd)
				if err != nil {
					return err
				}
				return invoke(cmd, root, method, req)
			},
		})
	}
	return cmd
}

// request builds the wire message; settings are sent only for flags set explicitly.
func (o *analyzeOptions) request(cmd *cobra.Command) (*structpb.Struct, error) {
	req := api.AnalysisRequest{
		BabyID:    o.babyID,
		Start:     o.start,
		End:       o.end,
		Days:      o.days,
		BirthDate: o.birthDate,
	}
	if cmd.Flags().Changed("cloud") {
		req.CloudEnabled = &o.cloud
	}
	if cmd.Flags().Changed("wifi-only") {
		req.WiFiOnly = &o.wifiOnly
	}
	if cmd.Flags().Changed("anonymize") {
		req.AnonymizeData = &o.anonymizeData
	}
	return api.ToAnalysisStruct(req)
}

// --- record ---

type recordOptions struct {
	id           string
	babyID       string
	kind         string
	activityType string
	start        string
	end          string
	metadata     string
}

func newRecordCmd(root *rootOptions) *cobra.Command {
	opts := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Manage activity records",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Store a sleep, feeding or activity record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			return invoke(cmd, root, api.MethodRecordActivity, req)
		},
	}
	flags := add.Flags()
	flags.StringVar(&opts.id, "id", "", "Record id (generated when empty)")
	flags.StringVar(&opts.babyID, "baby", "", "Baby identifier")
	flags.StringVar(&opts.kind, "kind", "", "sleep, feeding or activity")
	flags.StringVar(&opts.activityType, "type", "", "Activity type for --kind activity")
	flags.StringVar(&opts.start, "start", "", "Start time (RFC3339)")
	flags.StringVar(&opts.end, "end", "", "End time (RFC3339)")
	flags.StringVar(&opts.metadata, "metadata", "", "Metadata as JSON, e.g. '{\"sleep\":{\"is_night_sleep\":true}}'")
	_ = add.MarkFlagRequired("baby")
	_ = add.MarkFlagRequired("kind")
	_ = add.MarkFlagRequired("start")

	cmd.AddCommand(add)
	return cmd
}

func (o *recordOptions) request() (*structpb.Struct, error) {
	fields := map[string]any{
		"baby_id": o.babyID,
		"kind":    o.kind,
		"start":   o.start,
	}
	for key, value := range map[string]string{"id": o.id, "activity_type": o.activityType, "end": o.end} {
		if value != "" {
			fields[key] = value
		}
	}
	if o.metadata != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(o.metadata), &meta); err != nil {
			return nil, fmt.Errorf("parse --metadata: %w", err)
		}
		fields["metadata"] = meta
	}
	return structpb.NewStruct(fields)
}

// --- credential / device ---

func newCredentialCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the locally stored cloud credential",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset [credential]",
		Short: "Replace the stored credential remainder (run while the engine is stopped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAssembler(root, func(a *secrets.Assembler, _ *secrets.DeviceKey) error {
				if err := a.Reset(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "credential updated")
				return nil
			})
		},
	})
	return cmd
}

func newDeviceCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect the local device identity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "id",
		Short: "Print the device identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			device, err := secrets.LoadDeviceKey(cfg.Secrets.DeviceSeedPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), device.DeviceID())
			return nil
		},
	})
	return cmd
}

func withAssembler(root *rootOptions, fn func(*secrets.Assembler, *secrets.DeviceKey) error) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	db, err := storage.Open(storage.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: true,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	device, err := secrets.LoadDeviceKey(cfg.Secrets.DeviceSeedPath)
	if err != nil {
		return err
	}
	assembler, err := secrets.NewAssembler(secrets.AssemblerConfig{
		Store:     secrets.NewBadgerStore(db),
		Fragments: secrets.SelectFragment(cfg.Secrets.MiddleFragment, cfg.Secrets.MiddleFragmentPath),
		Device:    device,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return fn(assembler, device)
}

// --- transport ---

func invoke(cmd *cobra.Command, root *rootOptions, method string, req *structpb.Struct) error {
	address := root.address
	if address == "" {
		cfg, err := config.Load(root.configPath)
		if err != nil {
			return err
		}
		address = cfg.Server.Address
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, req, out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, out *structpb.Struct) error {
	if out == nil {
		return errors.New("empty response")
	}
	data, err := json.MarshalIndent(out.AsMap(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
