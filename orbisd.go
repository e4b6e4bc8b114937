package main

import (
	"path/filepath"
	"time"

	"github.com/orbisnet/orbisd/blocklog"
	"github.com/orbisnet/orbisd/chain"
	"github.com/orbisnet/orbisd/config"
	"github.com/orbisnet/orbisd/infrastructure/logger"
	"github.com/orbisnet/orbisd/signal"
	"github.com/orbisnet/orbisd/version"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// blocksDirname is the block log directory under the data directory.
const blocksDirname = "blocks"

func orbisdMain() error {
	err := config.LoadAndSetActiveConfig()
	if err != nil {
		return err
	}
	cfg := config.ActiveConfig()
	defer logger.Close()

	interrupt := signal.InterruptListener()
	defer log.Info("Shutdown complete")

	log.Infof("Version %s", version.Version())

	blockLog, err := blocklog.Open(filepath.Join(cfg.DataDir, blocksDirname))
	if err != nil {
		log.Errorf("Error opening the block log: %+v", err)
		return err
	}
	defer blockLog.Close()

	core, err := chain.New(&chain.Config{
		Params:                     cfg.NetParams(),
		BlockLog:                   blockLog,
		Schedule:                   roundRobinSchedule{},
		OpMaxsizeProportionPercent: cfg.OpMaxsizeProportionPercent,
		MessageCacheSizeLimit:      cfg.MessageCacheSizeLimit,
		DeduceInVerificationMode:   cfg.DeduceInVerificationMode,
	})
	if err != nil {
		log.Errorf("Error creating the chain core: %+v", err)
		return err
	}
	registerEvaluators(core)

	err = replayBlockLog(core, blockLog, interrupt)
	if err != nil {
		log.Errorf("Error replaying the block log: %+v", err)
		return err
	}

	if cfg.Produce {
		spawn(func() {
			produceBlocks(core, wire.WitnessID(cfg.Witness), cfg, interrupt)
		})
	}

	<-interrupt
	return nil
}

// replayBlockLog reconnects every stored block, rebuilding the in-memory
// chain state. Replayed blocks bypass validation; the log is trusted.
func replayBlockLog(core *chain.Chain, blockLog *blocklog.BlockLog,
	interrupt <-chan struct{}) error {

	replayed := uint32(0)
	for num := uint32(1); ; num++ {
		if signal.InterruptRequested(interrupt) {
			return errors.New("block log replay interrupted")
		}
		block, err := blockLog.FetchByNumber(num)
		if err != nil {
			return err
		}
		if block == nil {
			break
		}
		_, err = core.PushBlock(block, chain.BFAll)
		if err != nil {
			return errors.Wrapf(err, "replaying block %d", num)
		}
		replayed++
	}
	if replayed > 0 {
		log.Infof("Replayed %d blocks, head is %s", replayed, core.HeadBlockID())
	}
	return nil
}

// produceBlocks runs the witness production loop. It wakes several times per
// slot and generates a block whenever the current slot belongs to the
// configured witness.
func produceBlocks(core *chain.Chain, witnessID wire.WitnessID,
	cfg *config.Config, interrupt <-chan struct{}) {

	interval := core.Params().BlockInterval
	ticker := time.NewTicker(interval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			return

		case now := <-ticker.C:
			slot := core.GetSlotAtTime(now)
			if slot == 0 {
				continue
			}
			slotTime := core.GetSlotTime(slot)
			if now.Before(slotTime) {
				continue
			}
			block, err := core.GenerateBlock(slotTime, witnessID,
				cfg.WitnessSigningKey, chain.BFNone)
			if err != nil {
				log.Tracef("Not producing at slot %d: %s", slot, err)
				continue
			}
			_, err = core.PushBlock(block, chain.BFSkipTransactionSignatures)
			if err != nil {
				log.Errorf("Produced block %d failed to push: %+v",
					block.BlockNum(), err)
				continue
			}
			log.Infof("Produced block %d [%s] with %d transactions",
				block.BlockNum(), block.BlockID(), len(block.Transactions))
		}
	}
}

// roundRobinSchedule rotates block production over the active witnesses in
// the order they appear in the global property.
type roundRobinSchedule struct{}

// ScheduledWitness returns the witness owning the given future slot.
func (roundRobinSchedule) ScheduledWitness(store *chain.Store, slot uint64) wire.WitnessID {
	active := store.GlobalProperty().ActiveWitnesses
	if len(active) == 0 {
		return 0
	}
	current := store.DynamicGlobalProperty().CurrentASlot
	return active[(current+slot)%uint64(len(active))]
}

// UpdateSchedule is a no-op: the rotation order only changes when the active
// witness set changes at maintenance time.
func (roundRobinSchedule) UpdateSchedule(store *chain.Store, block *wire.SignedBlock) error {
	return nil
}
