// Package session obtains an instrumentation session on the target
// process: it resolves the device once, then retries attach/spawn attempts
// with a constant delay until one succeeds or the attempts run out.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/instrument"
)

// Acquirer attaches to or spawns the configured target.
type Acquirer struct {
	manager  instrument.Manager
	resolver *config.Resolver
	log      logr.Logger

	device instrument.Device
}

func NewAcquirer(manager instrument.Manager, log logr.Logger) *Acquirer {
	return &Acquirer{
		manager:  manager,
		resolver: config.NewResolver(),
		log:      log,
	}
}

// Device returns the device resolved by the last Acquire call.
func (a *Acquirer) Device() instrument.Device {
	return a.device
}

// Acquire returns a live session on the target. After MaxAttempts failed
// attempts it returns an error wrapping ErrNoSession and the last failure.
func (a *Acquirer) Acquire(ctx context.Context, cfg *config.Config) (instrument.Session, error) {
	dev, err := a.resolveDevice(cfg.Target.Source)
	if err != nil {
		a.log.Error(err, "Could not connect to device", "source", cfg.Target.Source)
		return nil, err
	}

	details := a.resolver.AttachPolicy(cfg)
	attempt := 0

	op := func() (instrument.Session, error) {
		attempt++
		sess, attemptErr := a.attempt(dev, cfg)
		if attemptErr != nil {
			if isPermanent(attemptErr) {
				return nil, backoff.Permanent(attemptErr)
			}
			return nil, attemptErr
		}
		if cfg.ChildGating {
			if gateErr := sess.EnableChildGating(); gateErr != nil {
				_ = sess.Detach()
				return nil, fmt.Errorf("enabling child gating: %w", gateErr)
			}
		}
		return sess, nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(details.Delay), uint64(details.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, d time.Duration) {
		a.log.Info("Could not obtain a session, retrying",
			"attempt", attempt,
			"maxAttempts", details.MaxAttempts,
			"retryIn", d,
			"reason", err.Error(),
		)
	}

	sess, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		a.log.Error(err, "Giving up on target", "attempts", attempt)
		return nil, errors.Join(ErrNoSession, err)
	}
	return sess, nil
}

func (a *Acquirer) resolveDevice(source config.SourceKind) (instrument.Device, error) {
	if a.device != nil {
		return a.device, nil
	}
	dev, err := a.manager.Device(source)
	if err != nil {
		return nil, &DeviceError{Source: source, Err: err}
	}
	if dev == nil {
		return nil, &DeviceError{Source: source, Err: errors.New("device unavailable")}
	}
	a.device = dev
	a.log.V(1).Info("Using device", "name", dev.Name(), "source", source)
	return dev, nil
}

// isPermanent reports errors retrying cannot fix. Validation problems in
// the spawn fallback of "try" stay retryable since the target may still
// show up on a later attempt.
func isPermanent(err error) bool {
	var fallback *SpawnOrAttachError
	if errors.As(err, &fallback) {
		return false
	}
	var verr *config.ValidationError
	return errors.As(err, &verr)
}
