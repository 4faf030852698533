package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/engine"
	"github.com/rcliao/accessmind/internal/logging"
	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/store"
	"github.com/rcliao/accessmind/internal/vault"
)

// session is one CLI invocation's engine, restored from and synced back to
// the journal.
type session struct {
	cfg    *config.Config
	store  *store.SQLiteStore
	engine *engine.Engine
	log    zerolog.Logger

	cancel context.CancelFunc
	done   chan error
}

// openSession loads config and journal, starts an engine and runs one
// analysis pass over the restored ledger.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := restoreSettings(ctx, s, cfg); err != nil {
		s.Close()
		return nil, err
	}

	log := logging.New(cfg.Logging, os.Stderr)
	locker, proofs := vault.NewFromConfig(cfg.Vault)
	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithLocation(time.Local),
	}
	if locker != nil {
		opts = append(opts, engine.WithLocker(locker))
	}
	if proofs != nil {
		opts = append(opts, engine.WithProofRegistry(proofs))
	}
	e := engine.New(cfg, opts...)
	e.OnDecision(func(d model.Decision) {
		log.Debug().Str("counterparty", d.Counterparty).Bool("approved", d.Approved).Str("reason", d.Reason).Msg("decision")
	})

	// The engine outlives ctx so the final journal sync can still query it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{cfg: cfg, store: s, engine: e, log: log, cancel: cancel, done: make(chan error, 1)}
	go func() { sess.done <- e.Run(runCtx) }()

	events, err := s.Events(ctx, store.EventFilter{})
	if err != nil {
		sess.abort()
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if _, err := e.Restore(ctx, events); err != nil {
		sess.abort()
		return nil, fmt.Errorf("restore journal: %w", err)
	}
	if err := e.Analyze(ctx); err != nil {
		sess.abort()
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return sess, nil
}

// restoreSettings applies journaled settings to cfg before the engine is built.
func restoreSettings(ctx context.Context, s *store.SQLiteStore, cfg *config.Config) error {
	env, err := s.Setting(ctx, store.SettingEnvironment)
	switch {
	case err == nil:
		cfg.Knowledge.InitialEnvironment = env
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("read settings: %w", err)
	}

	ap, err := s.Setting(ctx, store.SettingAutoProtection)
	switch {
	case err == nil:
		if v, perr := strconv.ParseBool(ap); perr == nil {
			cfg.Memory.AutoProtection = v
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("read settings: %w", err)
	}
	return nil
}

// sync mirrors the ledger and the persisted settings into the journal.
func (s *session) sync(ctx context.Context) error {
	events, err := s.engine.Events(ctx)
	if err != nil {
		return err
	}
	res, err := s.store.SyncEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("sync events: %w", err)
	}
	st, err := s.engine.Status(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SetSetting(ctx, store.SettingEnvironment, st.Environment); err != nil {
		return err
	}
	if err := s.store.SetSetting(ctx, store.SettingAutoProtection, strconv.FormatBool(st.AutoProtection)); err != nil {
		return err
	}
	s.log.Debug().Int("upserted", res.Upserted).Int("pruned", res.Pruned).Msg("journal synced")
	return nil
}

// close syncs the journal, stops the engine and closes the store.
func (s *session) close(ctx context.Context) error {
	err := s.sync(ctx)
	s.abort()
	return err
}

func (s *session) abort() {
	s.cancel()
	<-s.done
	s.store.Close()
}

// withSession runs fn inside a session and exits on any error.
func withSession(ctx context.Context, name string, fn func(s *session) error) {
	s, err := openSession(ctx)
	if err != nil {
		exitErr(name, err)
	}
	if err := fn(s); err != nil {
		s.abort()
		exitErr(name, err)
	}
	if err := s.close(ctx); err != nil {
		exitErr("sync journal", err)
	}
}
