package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/physique/internal/cache"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/internal/delivery"
	"github.com/kiranshivaraju/physique/internal/gateway"
	"github.com/kiranshivaraju/physique/internal/ledger"
	"github.com/kiranshivaraju/physique/internal/notify"
	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/internal/session"
)

const outcomeBuffer = 16

// client is one running delivery pipeline bound to the configured API key.
type client struct {
	coord     *delivery.Coordinator
	presenter *notify.Presenter
	outcomes  chan delivery.Outcome
	done      chan error
	closers   []func() error
}

// startClient resolves the caller's identity, wires the delivery pipeline
// and starts the coordinator. imageRef decides whether an S3 client is
// needed; pass "" when no image will be loaded.
func startClient(ctx context.Context, cfg *config.ClientConfig, imageRef string, banners io.Writer) (*client, error) {
	// The gateway and the event stream bound their own lifetimes.
	httpClient := &http.Client{}

	id, err := session.Fetch(ctx, httpClient, cfg.APIURL, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	identity := session.NewStore()
	identity.SignIn(id)

	c := &client{
		outcomes: make(chan delivery.Outcome, outcomeBuffer),
		done:     make(chan error, 1),
	}

	var (
		led ledger.Ledger
		sub realtime.Subscriber
	)
	switch cfg.Realtime {
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		c.closers = append(c.closers, rc.Close)
		led = ledger.NewCacheLedger(rc)
		sub = realtime.NewRedisBroker(rc.Client())
	default:
		led = ledger.NewFileLedger(cfg.LedgerDir)
		sub = realtime.NewSSESubscriber(cfg.APIURL, cfg.APIKey, httpClient)
	}

	var objects gateway.ObjectGetter
	if strings.HasPrefix(imageRef, "s3://") {
		s3Client, err := gateway.NewS3Client(ctx, cfg.S3)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		objects = s3Client
	}
	loader := gateway.NewRefLoader(httpClient, objects)
	gw := gateway.NewHTTPGateway(cfg.APIURL, cfg.APIKey, httpClient, loader, cfg.GatewayTimeout)

	c.coord = delivery.NewCoordinator(delivery.Options{
		Gateway:      gw,
		Ledger:       led,
		Realtime:     sub,
		Session:      identity,
		GraceTimeout: cfg.GraceTimeout,
		Logger:       slog.Default(),
		OnState: func(s delivery.DeliveryState) {
			c.presenter.Apply(s)
		},
		OnOutcome: func(o delivery.Outcome) {
			select {
			case c.outcomes <- o:
			default:
				slog.Warn("outcome buffer full, dropping", "job_id", o.JobID)
			}
		},
	})
	c.presenter = notify.NewPresenter(notify.NewTextRenderer(banners), c.coord, nil, cfg.BannerTimeout)

	go func() { c.done <- c.coord.Run(ctx) }()
	return c, nil
}

// await returns the next outcome, or an error once ctx ends or the
// coordinator stops.
func (c *client) await(ctx context.Context) (delivery.Outcome, error) {
	select {
	case o := <-c.outcomes:
		return o, nil
	case <-ctx.Done():
		return delivery.Outcome{}, ctx.Err()
	case err := <-c.done:
		if err == nil {
			err = delivery.ErrCoordinatorDone
		}
		return delivery.Outcome{}, err
	}
}

// open clears the banner for o and returns the delivery to idle. The
// result printed is always the outcome's own.
func (c *client) open(o delivery.Outcome) {
	if jobID, ok := c.presenter.Visible(); ok && jobID != o.JobID {
		// A later resumed job owns the banner now.
		return
	}
	c.presenter.View()
	c.coord.Acknowledge()
}

func (c *client) close() {
	if c.coord != nil {
		c.coord.Close()
	}
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			slog.Warn("closing client resource", "error", err)
		}
	}
}
