package workers

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// withStartupTimeout bounds a worker's initial connect phase by
// cfg.startupTimeout ("WORKER_STARTUP"), distinct from the per-message
// timeout table applied once a session is established.
func withStartupTimeout(ctx context.Context, cfg *Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.startupTimeout)
}

// Session ties a Client to a Driver and applies the shutdown/retry policy
// when the worker terminates mid-flight: pending requests whose message
// type has a retry Strategy are resent, under a freshly generated
// transaction id, against a freshly respawned worker; everything else is
// failed with WorkerCrashed. At most one respawn runs at a time, no matter
// how many pending entries triggered it, and the total respawn count across
// the session's lifetime is capped by Config.maxRespawnsSession.
type Session struct {
	cfg     *Config
	factory Factory
	client  *Client
	driver  Driver

	respawnGroup singleflight.Group
	respawns     atomic.Int64
}

// NewSession spawns a worker via factory, wraps it in a Client, and begins
// watching for its exit. The returned Session owns both; call Close to
// tear everything down.
func NewSession(ctx context.Context, factory Factory, cfg *Config) (*Session, error) {
	driver, err := factory()
	if err != nil {
		return nil, err
	}

	startupCtx, cancel := withStartupTimeout(ctx, cfg)
	conn, err := driver.Connect(startupCtx, cfg)
	cancel()
	if err != nil {
		driver.Kill()
		return nil, err
	}

	s := &Session{cfg: cfg, factory: factory, driver: driver}
	s.client = NewClient(conn, cfg)
	s.client.bindDriver(driver)
	s.client.setDisconnectHandler(func(error) {})

	go s.watchExit(driver)

	return s, nil
}

// Client returns the session's host client, for issuing requests.
func (s *Session) Client() *Client { return s.client }

func (s *Session) watchExit(driver Driver) {
	info, ok := <-driver.Wait()
	if !ok {
		return
	}
	s.handleExit(info)
}

// handleExit triages every pending request against its Strategy, fails
// the non-retriable ones immediately, and if at least one entry is
// retriable, drives a single respawn for the whole batch.
func (s *Session) handleExit(info ExitInfo) {
	s.client.markInactive()

	pending := s.client.snapshotAndClear()

	var retriable []string
	for tx, pr := range pending {
		if !pr.strategy.Retry || pr.attempt >= pr.strategy.Attempts {
			s.resolveCrashed(pr, info, pr.attempt, pr.strategy.Attempts)
			continue
		}
		retriable = append(retriable, tx)
	}
	if len(retriable) == 0 {
		return
	}

	newConn, err := s.respawn()
	if err != nil {
		for _, tx := range retriable {
			pr := pending[tx]
			s.resolveCrashed(pr, info, pr.attempt, pr.strategy.Attempts)
		}
		return
	}

	s.client.rebind(newConn)
	s.client.bindDriver(s.driver)
	for _, tx := range retriable {
		pr := pending[tx]
		pr.attempt++
		s.client.reinsertAndResend(pr)
	}

	go s.watchExit(s.driver)
}

func (s *Session) resolveCrashed(pr *pendingRequest, info ExitInfo, attempt, maxAttempts int) {
	pr.resultCh <- pendingResult{err: &Failure{
		Kind:        KindWorkerCrashed,
		Reason:      info.reason(),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}}
}

// respawn constructs a fresh Driver from the session's factory and
// connects it, coordinating so that a crash batch spanning many pending
// requests triggers exactly one respawn.
func (s *Session) respawn() (*Connection, error) {
	v, err, _ := s.respawnGroup.Do("respawn", func() (any, error) {
		if s.cfg.maxRespawnsSession > 0 && s.respawns.Load() >= int64(s.cfg.maxRespawnsSession) {
			return nil, ErrRespawnBudgetExhausted
		}

		driver, err := s.factory()
		if err != nil {
			return nil, err
		}
		startupCtx, cancel := withStartupTimeout(s.cfg.ctx, s.cfg)
		conn, err := driver.Connect(startupCtx, s.cfg)
		cancel()
		if err != nil {
			driver.Kill()
			return nil, err
		}

		oldDriver := s.driver
		s.driver = driver
		if oldDriver != nil {
			oldDriver.Kill()
		}
		s.respawns.Add(1)

		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// Close tears the session down: it closes the client (failing any
// requests still in flight) and gives the worker up to Config.closeGrace
// to exit on its own — closing its end of the transport is often enough
// for a well-behaved worker to notice and return — before force-killing
// it.
func (s *Session) Close() error {
	err := s.client.Close()

	select {
	case <-s.driver.Wait():
	case <-time.After(s.cfg.closeGrace):
	}
	if killErr := s.driver.Kill(); killErr != nil && err == nil {
		err = killErr
	}
	return err
}
