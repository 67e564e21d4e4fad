package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/scriptengine/internal/state"
)

// StateView is the printable form of a saved script state.
type StateView struct {
	ItemID        string            `json:"item_id"`
	AssetID       string            `json:"asset_id"`
	State         string            `json:"state"`
	Running       bool              `json:"running"`
	MinEventDelay string            `json:"min_event_delay,omitempty"`
	Variables     map[string]string `json:"variables"`
	Queue         []string          `json:"queue,omitempty"`
	Plugins       []string          `json:"plugins,omitempty"`
	Permissions   *PermissionsView  `json:"permissions,omitempty"`
	Hash          string            `json:"hash"`
}

// PermissionsView is the printable form of runtime permissions.
type PermissionsView struct {
	Granter string `json:"granter"`
	Mask    int32  `json:"mask"`
}

// StateOptions holds flags for the state commands.
type StateOptions struct {
	*RootOptions
	Raw bool // print the stored XML document
}

// NewStateCommand creates the state command and its subcommands.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect saved script states",
		Long: `Inspect and remove script states in the configured state store
(state.backend in the config file: file, sqlite or postgres).`,
	}

	show := &cobra.Command{
		Use:           "show <item-id>",
		Short:         "Print a saved state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateShow(opts, args[0], cmd)
		},
	}
	show.Flags().BoolVar(&opts.Raw, "raw", false, "print the stored XML document")

	rm := &cobra.Command{
		Use:           "rm <item-id>",
		Short:         "Delete a saved state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateRemove(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(show, rm)
	return cmd
}

// openStore parses the item ID and opens the configured store.
func openStore(ctx context.Context, opts *RootOptions, arg string) (uuid.UUID, state.Store, error) {
	itemID, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, nil, WrapExitError(ExitCommandError, "invalid item id", err)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return uuid.Nil, nil, err
	}
	st, err := state.Open(ctx, cfg.StateOptions())
	if err != nil {
		return uuid.Nil, nil, WrapExitError(ExitCommandError, "failed to open state store", err)
	}
	return itemID, st, nil
}

func runStateShow(opts *StateOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	itemID, st, err := openStore(ctx, opts.RootOptions, arg)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer st.Close()

	data, err := st.Read(ctx, itemID)
	if errors.Is(err, state.ErrNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no saved state for %s", itemID), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("no saved state for %s", itemID))
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}

	if opts.Raw && !formatter.JSON() {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	snap, err := state.Unmarshal(data)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "stored state is unreadable", err)
	}
	view := newStateView(snap, state.Hash(data))

	if formatter.JSON() {
		return formatter.Success(view)
	}
	printStateView(cmd, view)
	return nil
}

func runStateRemove(opts *StateOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	itemID, st, err := openStore(ctx, opts.RootOptions, arg)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer st.Close()

	if err := st.Remove(ctx, itemID); err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to remove state", err)
	}
	if formatter.JSON() {
		return formatter.Success(map[string]string{"removed": itemID.String()})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed state for %s\n", itemID)
	return nil
}

func newStateView(snap *state.Snapshot, hash string) StateView {
	view := StateView{
		ItemID:    snap.ItemID.String(),
		AssetID:   snap.AssetID.String(),
		State:     snap.State,
		Running:   snap.Running,
		Variables: make(map[string]string, len(snap.Variables)),
		Hash:      hash,
	}
	if snap.MinEventDelay > 0 {
		view.MinEventDelay = snap.MinEventDelay.String()
	}
	for _, name := range snap.VariableNames() {
		v := snap.Variables[name]
		view.Variables[name] = v.TypeName() + " " + v.String()
	}
	for _, rec := range snap.Queue {
		view.Queue = append(view.Queue, rec.Name())
	}
	for _, p := range snap.Plugins {
		view.Plugins = append(view.Plugins, p.String())
	}
	if snap.Permissions.Mask != 0 {
		view.Permissions = &PermissionsView{Granter: snap.Permissions.Granter.String(), Mask: snap.Permissions.Mask}
	}
	return view
}

func printStateView(cmd *cobra.Command, v StateView) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "item:    %s\n", v.ItemID)
	fmt.Fprintf(w, "asset:   %s\n", v.AssetID)
	fmt.Fprintf(w, "state:   %s\n", v.State)
	fmt.Fprintf(w, "running: %t\n", v.Running)
	if v.MinEventDelay != "" {
		fmt.Fprintf(w, "min event delay: %s\n", v.MinEventDelay)
	}
	if v.Permissions != nil {
		fmt.Fprintf(w, "permissions: %#x from %s\n", v.Permissions.Mask, v.Permissions.Granter)
	}
	if len(v.Queue) > 0 {
		fmt.Fprintf(w, "queue:   %s\n", strings.Join(v.Queue, ", "))
	}
	if len(v.Plugins) > 0 {
		fmt.Fprintf(w, "plugins: %s\n", strings.Join(v.Plugins, ", "))
	}
	fmt.Fprintln(w, "variables:")
	names := make([]string, 0, len(v.Variables))
	for name := range v.Variables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %s\n", name, v.Variables[name])
	}
	fmt.Fprintf(w, "hash:    %s\n", v.Hash)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
