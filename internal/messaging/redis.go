package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tankdrive/internal/logger"
	"tankdrive/internal/types"

	"github.com/redis/go-redis/v9"
)

// Redis keys
const (
	HashTankDrive  = "tankdrive"
	ChannelDrive   = "tankdrive"
	ListCommand    = "tankdrive:command"
	SetFault       = "tankdrive:fault"
	StreamFaults   = "events:faults"
	HashSettings   = "settings"
	ChannelSetting = "settings"

	SettingDeadmanTimeout = "tankdrive.deadman-timeout-ms"
)

type Callbacks struct {
	CommandCallback  func(string) error // command word pushed onto the command list, e.g. "L100"
	SettingsCallback func(string) error // setting key that was updated (e.g., "tankdrive.deadman-timeout-ms")
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

func NewRedisClient(addr string, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = callbacks
}

func (r *RedisClient) getCallbacks() Callbacks {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts the settings subscriber and the command list
// listener. Losing Redis only stops remote input; the control loop keeps
// running on its own deadman.
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	pubsub := r.client.Subscribe(r.ctx, ChannelSetting)
	r.logger.Infof("Subscribed to Redis channels: %s", ChannelSetting)

	r.wg.Add(2)
	go r.redisListener(pubsub)
	go r.listCommandListener(ListCommand, r.handleCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if errors.Is(err, context.Canceled) {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Warnf("Error reading from %s list: %v", key, err)
				// avoid spinning while the server is unreachable
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleCommand(value string) error {
	cb := r.getCallbacks().CommandCallback
	if cb == nil {
		return nil
	}
	if value == "" {
		return fmt.Errorf("empty command")
	}
	return cb(value)
}

func (r *RedisClient) redisListener(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	r.logger.Infof("Starting Redis message listener")
	channel := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting listener")
			return
		case msg, ok := <-channel:
			if !ok {
				r.logger.Errorf("Redis channel closed unexpectedly, settings updates stopped")
				return
			}
			if msg == nil {
				continue
			}

			r.logger.Debugf("Received Redis message: channel=%s payload=%s", msg.Channel, msg.Payload)

			if msg.Channel == ChannelSetting {
				if cb := r.getCallbacks().SettingsCallback; cb != nil {
					r.logger.Infof("Processing settings update: %s", msg.Payload)
					if err := cb(msg.Payload); err != nil {
						r.logger.Infof("Failed to handle settings update: %v", err)
					}
				}
			}
		}
	}
}

// PublishDriveState writes the snapshot to the tankdrive hash and notifies
// subscribers in one pipeline.
func (r *RedisClient) PublishDriveState(s types.DriveSnapshot) error {
	timestamp := time.Now().Format(time.RFC3339)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, HashTankDrive,
		"state", string(s.State),
		"state:timestamp", timestamp,
		"stopped", strconv.FormatBool(s.Stopped),
		"analog-override", strconv.FormatBool(s.AnalogOverride),
		"deadman-timeout-ms", s.DeadmanTimeoutMs,
		"left:mode", s.Left.Mode.String(),
		"left:speed", s.Left.Speed,
		"left:duty", s.Left.Duty,
		"right:mode", s.Right.Mode.String(),
		"right:speed", s.Right.Speed,
		"right:duty", s.Right.Duty,
	)
	pipe.Publish(r.ctx, ChannelDrive, "state")
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish drive state: %v", err)
		return err
	}
	r.logger.Debugf("Published drive state %s at %s", s.State, timestamp)
	return nil
}

// ReportFaultPresent reports a fault as present to Redis
func (r *RedisClient) ReportFaultPresent(code types.FaultCode, info string) error {
	r.logger.Infof("Reporting fault present: code=%d, description=%s", code, code)

	pipe := r.client.Pipeline()

	pipe.SAdd(r.ctx, SetFault, int(code))

	eventData := map[string]interface{}{
		"group":       "tankdrive",
		"code":        int(code),
		"description": code.String(),
		"ts":          time.Now().UnixMilli(),
	}
	if info != "" {
		eventData["info"] = info
	}
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: StreamFaults,
		MaxLen: 1000,
		Values: eventData,
	})

	pipe.Publish(r.ctx, ChannelDrive, "fault")

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Infof("Failed to report fault present: %v", err)
		return err
	}
	return nil
}

// ReportFaultAbsent reports a fault as absent (cleared) to Redis
func (r *RedisClient) ReportFaultAbsent(code types.FaultCode) error {
	r.logger.Debugf("Reporting fault absent: code=%d", code)

	pipe := r.client.Pipeline()
	pipe.SRem(r.ctx, SetFault, int(code))
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: StreamFaults,
		MaxLen: 1000,
		Values: map[string]interface{}{
			"group": "tankdrive",
			"code":  -int(code), // Negative code indicates fault cleared
		},
	})
	pipe.Publish(r.ctx, ChannelDrive, "fault")

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Infof("Failed to report fault absent: %v", err)
		return err
	}
	return nil
}

// GetDeadmanTimeout reads the persisted deadman timeout. ok is false when
// the setting has never been saved.
func (r *RedisClient) GetDeadmanTimeout() (ms int, ok bool, err error) {
	value, err := r.client.HGet(r.ctx, HashSettings, SettingDeadmanTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get %s: %w", SettingDeadmanTimeout, err)
	}
	ms, err = strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s value %q: %w", SettingDeadmanTimeout, value, err)
	}
	return ms, true, nil
}

// SaveDeadmanTimeout persists the timeout and notifies settings listeners.
func (r *RedisClient) SaveDeadmanTimeout(ms int) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, HashSettings, SettingDeadmanTimeout, ms)
	pipe.Publish(r.ctx, ChannelSetting, SettingDeadmanTimeout)
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to save %s: %w", SettingDeadmanTimeout, err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
