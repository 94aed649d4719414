package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/replica"
	"github.com/iudanet/gophsync/pkg/api"
)

// run цикл событий соединения. sub равен nil, если подписаться не удалось:
// тогда цикл повторяет Subscribe с паузами из backoff, пока не подпишется
// или соединение не остановят.
func (p *Provider) run(ctx context.Context, c *connection, sub channel.Subscription, deadline time.Time) {
	defer close(c.done)

	var (
		messages <-chan []byte
		events   <-chan channel.Event
		retryC   <-chan time.Time
	)
	if sub != nil {
		messages = sub.Messages()
		events = sub.Events()
	}

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	b := p.resubscribe()
	scheduleRetry := func() {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			p.logger.Warn("giving up resubscribing, working local-only", "topic", p.topic)
			retryC = nil
			return
		}
		retry.Reset(wait)
		retryC = retry.C
	}
	if sub == nil {
		scheduleRetry()
	}

	timeout := time.NewTimer(time.Until(deadline))
	defer timeout.Stop()

	fallback := time.NewTimer(p.syncFallback)
	fallback.Stop()
	defer fallback.Stop()

	publishFailing := false
	publish := func(msg api.Message) {
		if sub == nil || p.LocalOnly() {
			return
		}
		err := p.publish(ctx, sub, msg)
		switch {
		case err != nil && !publishFailing:
			publishFailing = true
			p.logger.Error("failed to publish message", "type", msg.Type, "error", err)
			p.emitError(ErrorTransport, err)
		case err != nil:
			p.logger.Debug("failed to publish message", "type", msg.Type, "error", err)
		default:
			publishFailing = false
		}
	}

	for {
		select {
		case <-c.stop:
			p.shutdown(c, sub, publish)
			return

		case ev, ok := <-events:
			if !ok || ev.State == channel.StateClosed {
				p.closedByTransport(c, sub)
				return
			}
			switch ev.State {
			case channel.StateSubscribed:
				p.logger.Info("subscribed", "topic", p.topic)
				p.setConnected(false)
				publish(api.NewSyncStep1(p.replica.EncodeStateVector(), p.replica.ClientID()))
				if local := p.awareness.EncodeLocal(); local != nil {
					publish(api.NewAwareness(local))
				}
				if !p.Synced() {
					fallback.Reset(p.syncFallback)
				}
			case channel.StateErrored:
				p.logger.Error("channel error, working local-only", "topic", p.topic, "error", ev.Err)
				p.setConnected(true)
				p.emitError(ErrorTransport, ev.Err)
				if !p.Synced() {
					fallback.Reset(p.syncFallback)
				}
			}

		case data, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			p.handle(data, publish)

		case msg := <-c.outbound:
			publish(msg)

		case <-retryC:
			next, err := p.channel.Subscribe(ctx, p.topic)
			if err != nil {
				p.logger.Debug("failed to resubscribe", "topic", p.topic, "error", err)
				scheduleRetry()
				continue
			}
			p.logger.Info("resubscribed", "topic", p.topic)
			retryC = nil
			b.Reset()
			sub = next
			messages = sub.Messages()
			events = sub.Events()

		case <-fallback.C:
			p.markSynced("fallback")

		case <-timeout.C:
			p.markSynced("timeout")
		}
	}
}

func (p *Provider) publish(ctx context.Context, sub channel.Subscription, msg api.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return sub.Publish(ctx, data)
}

// shutdown рассылает накопленные сообщения и удаление своего presence, затем закрывает подписку.
func (p *Provider) shutdown(c *connection, sub channel.Subscription, publish func(api.Message)) {
drain:
	for {
		select {
		case msg := <-c.outbound:
			publish(msg)

		default:
			break drain
		}
	}

	if update, change := p.awareness.RemoveLocal(); update != nil {
		publish(api.NewAwareness(update))
		p.awarenessListeners.emit(change)
	}

	if sub != nil {
		if err := sub.Close(); err != nil {
			p.logger.Debug("failed to close subscription", "error", err)
		}
	}
}

// closedByTransport обрабатывает окончательное закрытие подписки транспортом.
func (p *Provider) closedByTransport(c *connection, sub channel.Subscription) {
	p.logger.Info("channel closed", "topic", p.topic)
	_ = sub.Close()

	p.mu.Lock()
	if p.conn != c {
		p.mu.Unlock()
		return
	}
	wasSynced := p.synced
	p.status = StatusDisconnected
	p.synced = false
	p.localOnly = false
	p.mu.Unlock()

	p.emitStatus()
	if wasSynced {
		p.syncListeners.emit(false)
	}
}

// handle применяет одно сообщение из канала. Ошибочные сообщения отбрасываются.
func (p *Provider) handle(data []byte, publish func(api.Message)) {
	msg, err := api.Unmarshal(data)
	if err != nil {
		p.dropMessage(err)
		return
	}

	self := p.replica.ClientID()

	switch msg.Type {
	case api.TypeSyncStep1:
		if msg.RequesterClientID == self {
			return
		}
		sv, err := decodeStateVector(msg)
		if err != nil {
			p.dropMessage(err)
			return
		}
		p.logger.Debug("answering sync request", "requester", msg.RequesterClientID)
		publish(api.NewSyncStep2(p.replica.EncodeSince(sv), p.replica.EncodeStateVector(), msg.RequesterClientID))
		// новый участник должен узнать, кто уже в документе
		if local := p.awareness.EncodeLocal(); local != nil {
			publish(api.NewAwareness(local))
		}

	case api.TypeSyncStep2:
		if msg.TargetClientID != self {
			return
		}
		sv, err := decodeStateVector(msg)
		if err != nil {
			p.dropMessage(err)
			return
		}
		if err := p.applyRemote(msg); err != nil {
			p.dropMessage(err)
			return
		}
		// у ответчика нет части наших правок
		if !sv.Covers(p.replica.StateVector()) {
			publish(api.NewUpdate(p.replica.EncodeSince(sv)))
		}
		p.markSynced("sync-step-2")

	case api.TypeUpdate:
		if err := p.applyRemote(msg); err != nil {
			p.dropMessage(err)
		}

	case api.TypeAwareness:
		update, err := msg.UpdateBytes()
		if err != nil {
			p.dropMessage(fmt.Errorf("failed to decode awareness: %w", err))
			return
		}
		change, err := p.awareness.Apply(update)
		if err != nil {
			p.dropMessage(err)
			return
		}
		if !change.Empty() {
			p.awarenessListeners.emit(change)
		}
	}
}

func (p *Provider) applyRemote(msg api.Message) error {
	update, err := msg.UpdateBytes()
	if err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}
	if err := p.replica.ApplyUpdate(update, replica.OriginRemote); err != nil {
		return fmt.Errorf("failed to apply %s: %w", msg.Type, err)
	}
	return nil
}

func (p *Provider) dropMessage(err error) {
	p.logger.Warn("dropping malformed message", "error", err)
	p.emitError(ErrorDecode, err)
}

func decodeStateVector(msg api.Message) (crdt.StateVector, error) {
	raw, err := msg.StateVectorBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to decode state vector: %w", err)
	}
	sv, err := crdt.DecodeStateVector(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state vector: %w", err)
	}
	return sv, nil
}
