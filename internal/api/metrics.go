package api

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// apiMetrics counts business outcomes: placed orders, quote verdicts, and
// claim attempts. Request-level metrics (latency, status) come from the
// otelhttp middleware; these cover what the storefront actually did.
type apiMetrics struct {
	ordersPlaced metric.Int64Counter
	offersQuoted metric.Int64Counter
	offerClaims  metric.Int64Counter
}

func newAPIMetrics(mp metric.MeterProvider) *apiMetrics {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("saborly.api")

	return &apiMetrics{
		ordersPlaced: mustCounter(meter, "saborly.orders.placed",
			"Orders accepted and persisted."),
		offersQuoted: mustCounter(meter, "saborly.offers.quoted",
			"Quote previews evaluated, by verdict."),
		offerClaims: mustCounter(meter, "saborly.offers.claims",
			"One-time offer claim attempts, by outcome."),
	}
}

// mustCounter panics on instrument creation failure, which only happens on
// a malformed name and is therefore a programmer error.
func mustCounter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return c
}
