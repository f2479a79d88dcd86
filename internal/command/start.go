package command

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/state"
	"github.com/temoto/penlok/log2"
)

// Start attaches MQTT subscriber and launches request poller, each when enabled.
func Start(ctx context.Context, g *state.Global) error {
	cc := &g.Config.Command
	log := g.Log.Clone(log2.LInfo)
	if cc.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	pulse := helpers.IntMillisecondDefault(cc.PulseMs, DefaultPulse)

	if cc.Mqtt.Enable {
		mc, err := g.Mqtt()
		if err != nil {
			return errors.Annotate(err, "command mqtt")
		}
		if mc == nil {
			return errors.NotValidf("config: command.mqtt.enable requires mqtt.enable")
		}
		NewSubscriber(log, g.Locker, g.Tele, pulse).Attach(ctx, mc, cc.Mqtt.Topic)
	}

	if cc.Poll.Enable {
		store, err := g.Records(ctx)
		if err != nil {
			return errors.Annotate(err, "command poll")
		}
		if store == nil {
			return errors.NotValidf("config: command.poll.enable requires database")
		}
		p := NewPoller(log, store, g.Locker, g.Tele, PollerConfig{
			Interval:   helpers.IntMillisecondDefault(cc.Poll.IntervalMs, DefaultPollInterval),
			BackoffMax: helpers.IntMillisecondDefault(cc.Poll.BackoffMaxMs, 0),
			BackoffK:   cc.Poll.BackoffK,
			Batch:      cc.Poll.Batch,
			Pulse:      pulse,
		})
		go p.Run(ctx, g.Alive)
	}
	return nil
}
