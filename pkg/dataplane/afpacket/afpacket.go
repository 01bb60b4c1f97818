//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type Port struct {
	Interface    string
	ConnectPoint models.ConnectPoint
}

type Config struct {
	Ports       []Port
	SnapLen     int
	BlockSizeKB int
	NumBlocks   int
	PollTimeout time.Duration
}

// Service binds one TPACKET_V3 socket per configured port and maps each
// socket to the port's connect point.
type Service struct {
	*component.Base
	*dataplane.Registry

	cfg     Config
	logger  *slog.Logger
	mu      sync.RWMutex
	handles map[models.ConnectPoint]*afpacket.TPacket
}

var _ dataplane.PacketService = (*Service)(nil)

func New(cfg Config) *Service {
	if cfg.SnapLen == 0 {
		cfg.SnapLen = 2048
	}
	if cfg.BlockSizeKB == 0 {
		cfg.BlockSizeKB = 1024
	}
	if cfg.NumBlocks == 0 {
		cfg.NumBlocks = 8
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	return &Service{
		Base:     component.NewBase("afpacket"),
		Registry: dataplane.NewRegistry(),
		cfg:      cfg,
		logger:   logger.Get(logger.Dataplane),
		handles:  make(map[models.ConnectPoint]*afpacket.TPacket),
	}
}

// controlFilter accepts IPv4, IPv6, ARP and 802.1Q frames.
func controlFilter() ([]bpf.RawInstruction, error) {
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipTrue: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86dd, SkipTrue: 3},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0806, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x8100, SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: 0xffff},
	})
}

func frameSize(snapLen int) int {
	pageSize := os.Getpagesize()
	n := pageSize
	for n < snapLen {
		n += pageSize
	}
	return n
}

func (s *Service) open(port Port) (*afpacket.TPacket, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(port.Interface),
		afpacket.OptFrameSize(frameSize(s.cfg.SnapLen)),
		afpacket.OptBlockSize(s.cfg.BlockSizeKB*1024),
		afpacket.OptNumBlocks(s.cfg.NumBlocks),
		afpacket.OptPollTimeout(s.cfg.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port.Interface, err)
	}

	filter, err := controlFilter()
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("assemble filter: %w", err)
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, fmt.Errorf("attach filter on %s: %w", port.Interface, err)
	}
	return tp, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.StartContext(ctx)

	for _, port := range s.cfg.Ports {
		tp, err := s.open(port)
		if err != nil {
			s.closeAll()
			return err
		}
		s.mu.Lock()
		s.handles[port.ConnectPoint] = tp
		s.mu.Unlock()

		port := port
		s.Go(func() { s.readLoop(port, tp) })
		s.logger.Info("Packet socket open", "interface", port.Interface, "cp", port.ConnectPoint)
	}
	return nil
}

func (s *Service) readLoop(port Port, tp *afpacket.TPacket) {
	for {
		if s.Ctx.Err() != nil {
			return
		}

		data, ci, err := tp.ReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			if s.Ctx.Err() != nil {
				return
			}
			s.logger.Warn("Packet read failed", "interface", port.Interface, "error", err)
			continue
		}

		var vlan uint16
		for _, anc := range ci.AncillaryData {
			if v, ok := anc.(afpacket.AncillaryVLAN); ok {
				vlan = uint16(v.VLAN)
			}
		}

		pkt, err := dataplane.Parse(data, port.ConnectPoint, vlan)
		if err != nil {
			s.logger.Debug("Failed to parse packet", "interface", port.Interface, "error", err)
			continue
		}
		s.Deliver(pkt)
	}
}

func (s *Service) Emit(egress models.ConnectPoint, frame []byte) error {
	s.mu.RLock()
	tp, ok := s.handles[egress]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no packet socket for %s", egress)
	}
	if err := tp.WritePacketData(frame); err != nil {
		return fmt.Errorf("write to %s: %w", egress, err)
	}
	return nil
}

func (s *Service) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cp, tp := range s.handles {
		tp.Close()
		delete(s.handles, cp)
	}
}

func (s *Service) Stop(ctx context.Context) error {
	if s.Ctx == nil {
		return nil
	}
	s.StopContext()
	s.closeAll()
	return nil
}
