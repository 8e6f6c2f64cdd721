// Command netloopd wires the network core into a runnable process:
// bind the listener, construct the Swarm and Manager, and run the
// driver loop until interrupted. Grounded on the teacher's
// cmd/empower1d/main.go wiring sequence and cmd/empower1d/cli/cli.go's
// cobra.Command pattern.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/empower1/netcore/internal/listener"
	"github.com/empower1/netcore/internal/manager"
	"github.com/empower1/netcore/internal/netmetrics"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/peerset"
	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/swarm"
	"github.com/empower1/netcore/internal/types"
)

type flags struct {
	listenAddr    string
	networkId     uint64
	maxOutbound   int
	maxInbound    int
	ethReqCap     int
	stakingActive bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "netloopd",
		Short: "netloopd runs the peer-to-peer network core event loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.listenAddr, "listen", "0.0.0.0:30303", "TCP address to accept inbound connections on")
	cmd.Flags().Uint64Var(&f.networkId, "network-id", 1, "chain network id advertised in status")
	cmd.Flags().IntVar(&f.maxOutbound, "max-outbound", 25, "maximum concurrent outbound sessions")
	cmd.Flags().IntVar(&f.maxInbound, "max-inbound", 25, "maximum concurrent inbound sessions")
	cmd.Flags().IntVar(&f.ethReqCap, "eth-request-capacity", 256, "bounded capacity of the eth-request task channel")
	cmd.Flags().BoolVar(&f.stakingActive, "pos", false, "run in post-EIP-3675 (PoS) mode: suppress block propagation")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ln, err := listener.Bind(ctx, f.listenAddr)
	if err != nil {
		return fmt.Errorf("netloopd: bind listener: %w", err)
	}

	self := types.PeerId(peer.ID(uuid.NewString()))
	mode := types.ModePoW
	if f.stakingActive {
		mode = types.ModePoS
	}

	sessions := session.New(self, []types.Capability{{Name: "eth", Version: 68}}, types.Status{NetworkId: f.networkId})
	peers := peerset.New()
	state := netstate.New(peers, [32]byte{}, mode, netstate.Limits{MaxOutbound: f.maxOutbound, MaxInbound: f.maxInbound})
	sw := swarm.New(ln, sessions, state, nil)

	metrics := netmetrics.New(prometheus.DefaultRegisterer)
	blockImport := newNopBlockImport()

	mgr, handle := manager.New(sw, blockImport, manager.Config{
		Mode:               mode,
		EthRequestCapacity: f.ethReqCap,
		Metrics:            metrics,
	})
	_ = handle // production wiring hands this to the RPC/CLI surface that issues commands

	mgr.Run(ctx)
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
