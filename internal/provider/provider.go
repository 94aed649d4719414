// Package provider связывает реплику документа с каналом: синхронизирует
// состояние с другими участниками, рассылает локальные правки и presence,
// сохраняет snapshot и сообщает подписчикам о смене состояния.
//
// Вся работа с подпиской, таймерами синхронизации и входящими сообщениями
// выполняется в одной горутине на соединение.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/iudanet/gophsync/internal/awareness"
	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/persistence"
	"github.com/iudanet/gophsync/internal/replica"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// Provider синхронизирует одну реплику документа через канал.
//
// Подписчики событий вызываются синхронно из внутренних горутин провайдера
// и из горутины, вызвавшей Connect или Disconnect. Они не должны блокироваться
// и не должны вызывать Disconnect или Destroy.
type Provider struct {
	store     *replica.Store
	replica   *replica.Replica
	awareness *awareness.Awareness
	channel   channel.Channel
	snapshots storage.SnapshotStore
	scheduler *persistence.Scheduler
	logger    *slog.Logger
	conn      *connection
	unobserve func()

	statusListeners    listeners[StatusEvent]
	syncListeners      listeners[bool]
	awarenessListeners listeners[awareness.Change]
	errorListeners     listeners[ErrorEvent]

	user         models.User
	topic        string
	syncFallback time.Duration
	syncTimeout  time.Duration
	resubscribe  func() backoff.BackOff

	lifecycle sync.Mutex // сериализует Connect, Disconnect и Destroy
	mu        sync.Mutex // защищает поля ниже
	status    Status
	synced    bool
	localOnly bool
	restored  bool
	destroyed bool
}

// New берет реплику документа из store и создает для нее провайдер.
// Провайдер не подключается до вызова Connect.
func New(store *replica.Store, documentID string, ch channel.Channel, opts ...Option) *Provider {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := store.Acquire(documentID)

	user := models.User{Name: fmt.Sprintf("client-%d", r.ClientID())}
	if cfg.user != nil {
		user = *cfg.user
	}

	p := &Provider{
		store:        store,
		replica:      r,
		awareness:    awareness.New(r.ClientID()),
		channel:      ch,
		snapshots:    cfg.snapshots,
		logger:       cfg.logger.With("document_id", documentID, "client_id", r.ClientID()),
		user:         user,
		topic:        channel.Topic(documentID),
		syncFallback: cfg.syncFallback,
		syncTimeout:  cfg.syncTimeout,
		resubscribe:  cfg.resubscribe,
	}

	if cfg.snapshots != nil {
		p.scheduler = persistence.NewScheduler(r, cfg.snapshots, p.logger,
			persistence.WithDelay(cfg.debounce),
			persistence.WithSaveTimeout(cfg.saveTimeout),
			persistence.OnSaved(func(err error) {
				if err != nil {
					p.emitError(ErrorPersistence, err)
				}
			}),
		)
	}

	p.unobserve = r.Observe(p.onUpdate)

	return p
}

// Replica возвращает реплику документа.
func (p *Provider) Replica() *replica.Replica {
	return p.replica
}

// Awareness возвращает таблицу presence.
func (p *Provider) Awareness() *awareness.Awareness {
	return p.awareness
}

// Status возвращает текущее состояние соединения.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

// Synced проверяет, завершена ли начальная синхронизация текущего соединения.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.synced
}

// LocalOnly проверяет, работает ли провайдер без канала.
func (p *Provider) LocalOnly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.localOnly
}

// PersistenceStats возвращает счетчики сохранений. ok=false, если хранилище не задано.
func (p *Provider) PersistenceStats() (stats persistence.Stats, ok bool) {
	if p.scheduler == nil {
		return persistence.Stats{}, false
	}
	return p.scheduler.Stats(), true
}

// OnStatus подписывает fn на смену состояния. Возвращает функцию отписки.
func (p *Provider) OnStatus(fn func(StatusEvent)) func() {
	return p.statusListeners.add(fn)
}

// OnSync подписывает fn на смену флага синхронизации.
func (p *Provider) OnSync(fn func(bool)) func() {
	return p.syncListeners.add(fn)
}

// OnAwareness подписывает fn на изменения presence.
func (p *Provider) OnAwareness(fn func(awareness.Change)) func() {
	return p.awarenessListeners.add(fn)
}

// OnError подписывает fn на ошибки.
func (p *Provider) OnError(fn func(ErrorEvent)) func() {
	return p.errorListeners.add(fn)
}

// Connect восстанавливает snapshot при первом подключении, публикует presence
// и подписывается на канал документа. Повторный вызов при активном соединении ничего не делает.
// Недоступность канала не является ошибкой: провайдер переходит в local-only режим.
func (p *Provider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.destroyed || p.status != StatusDisconnected {
		p.mu.Unlock()
		return nil
	}
	stale := p.conn
	p.conn = nil
	p.status = StatusConnecting
	p.synced = false
	p.localOnly = false
	p.mu.Unlock()

	// соединение, закрытое транспортом
	if stale != nil {
		stale.close()
	}

	deadline := time.Now().Add(p.syncTimeout)
	p.logger.Info("connecting")
	p.emitStatus()

	p.restore(ctx)

	if _, change := p.awareness.SetLocalState(p.user); !change.Empty() {
		p.awarenessListeners.emit(change)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := newConnection(cancel)

	sub, err := p.channel.Subscribe(loopCtx, p.topic)
	if err != nil {
		p.logger.Error("failed to subscribe, working local-only", "topic", p.topic, "error", err)
		p.setConnected(true)
		p.emitError(ErrorTransport, fmt.Errorf("failed to subscribe to %s: %w", p.topic, err))
		sub = nil
	}

	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()

	go p.run(loopCtx, c, sub, deadline)

	return nil
}

// restore загружает snapshot один раз за время жизни провайдера.
func (p *Provider) restore(ctx context.Context) {
	p.mu.Lock()
	skip := p.restored || p.snapshots == nil
	p.restored = true
	p.mu.Unlock()
	if skip {
		return
	}

	found, err := persistence.Restore(ctx, p.snapshots, p.replica.DocumentID(), func(data []byte) error {
		return p.replica.ApplyUpdate(data, replica.OriginSnapshot)
	})
	if err != nil {
		p.logger.Warn("failed to restore snapshot", "error", err)
		p.emitError(ErrorPersistence, err)
		return
	}
	if found {
		p.logger.Info("snapshot restored", "length", p.replica.Len())
	}
}

// Disconnect отписывается от канала, рассылает удаление своего presence
// и сохраняет несохраненные правки. Можно вызывать в любом состоянии и повторно.
func (p *Provider) Disconnect() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.disconnect()
}

func (p *Provider) disconnect() {
	p.mu.Lock()
	c := p.conn
	p.conn = nil
	p.mu.Unlock()

	if c != nil {
		c.close()
	}

	if _, change := p.awareness.RemoveLocal(); !change.Empty() {
		p.awarenessListeners.emit(change)
	}
	if change := p.awareness.RemoveStates(p.peers()...); !change.Empty() {
		p.awarenessListeners.emit(change)
	}

	if p.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistence.DefaultSaveTimeout)
		err := p.scheduler.Flush(ctx)
		cancel()
		if err != nil {
			p.emitError(ErrorPersistence, err)
		}
	}

	p.mu.Lock()
	changed := p.status != StatusDisconnected
	wasSynced := p.synced
	p.status = StatusDisconnected
	p.synced = false
	p.localOnly = false
	p.mu.Unlock()

	if changed {
		p.logger.Info("disconnected")
		p.emitStatus()
	}
	if wasSynced {
		p.syncListeners.emit(false)
	}
}

// peers возвращает ID известных удаленных клиентов.
func (p *Provider) peers() []uint64 {
	states := p.awareness.States()
	ids := make([]uint64, 0, len(states))
	for id := range states {
		if id != p.replica.ClientID() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Destroy отключается, снимает подписчиков и освобождает реплику в store.
// После Destroy все методы ничего не делают.
func (p *Provider) Destroy() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return
	}

	p.disconnect()

	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()

	p.unobserve()
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
	p.statusListeners.clear()
	p.syncListeners.clear()
	p.awarenessListeners.clear()
	p.errorListeners.clear()
	p.store.Release(p.replica.DocumentID())

	p.logger.Info("provider destroyed")
}

// UpdateCursor публикует позицию курсора. nil убирает курсор.
// Невалидный JSON и вызов без активного соединения игнорируются.
func (p *Provider) UpdateCursor(cursor json.RawMessage) {
	if p.isDestroyed() {
		return
	}
	update, change := p.awareness.SetLocalCursor(cursor)
	p.publishAwareness(update, change)
}

// SetActive публикует флаг активности пользователя.
func (p *Provider) SetActive(active bool) {
	if p.isDestroyed() {
		return
	}
	update, change := p.awareness.SetActive(active)
	p.publishAwareness(update, change)
}

func (p *Provider) publishAwareness(update []byte, change awareness.Change) {
	if update == nil {
		return
	}
	if !change.Empty() {
		p.awarenessListeners.emit(change)
	}
	p.enqueue(api.NewAwareness(update))
}

// onUpdate рассылает только локальные правки: обновления из канала и snapshot повторно не публикуются.
func (p *Provider) onUpdate(u replica.Update) {
	if u.Origin != replica.OriginLocal {
		return
	}
	if p.scheduler != nil {
		p.scheduler.Schedule()
	}
	p.enqueue(api.NewUpdate(u.Data))
}

func (p *Provider) enqueue(msg api.Message) {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()

	if c == nil {
		return
	}
	// при переполнении сообщение теряется: недостающие правки
	// участники получат при следующем обмене sync-step-1/sync-step-2
	select {
	case c.outbound <- msg:
	default:
		p.logger.Warn("outbound queue is full, dropping message", "type", msg.Type)
	}
}

func (p *Provider) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.destroyed
}

// setConnected переводит провайдер в connected и сообщает о смене режима.
func (p *Provider) setConnected(localOnly bool) {
	p.mu.Lock()
	changed := p.status != StatusConnected || p.localOnly != localOnly
	p.status = StatusConnected
	p.localOnly = localOnly
	p.mu.Unlock()

	if changed {
		p.emitStatus()
	}
}

func (p *Provider) markSynced(reason string) {
	p.mu.Lock()
	if p.synced {
		p.mu.Unlock()
		return
	}
	p.synced = true
	p.mu.Unlock()

	p.logger.Info("document synced", "reason", reason)
	p.syncListeners.emit(true)
}

func (p *Provider) emitStatus() {
	p.mu.Lock()
	ev := StatusEvent{Status: p.status, LocalOnly: p.localOnly}
	p.mu.Unlock()

	p.statusListeners.emit(ev)
}

func (p *Provider) emitError(kind ErrorKind, err error) {
	p.errorListeners.emit(ErrorEvent{Kind: kind, Err: err})
}

// connection ресурсы одного подключения. Ими владеет горутина run.
type connection struct {
	outbound chan api.Message
	stop     chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
}

func newConnection(cancel context.CancelFunc) *connection {
	return &connection{
		outbound: make(chan api.Message, outboundBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

// close останавливает горутину соединения и ждет ее завершения.
func (c *connection) close() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
	c.cancel()
}
