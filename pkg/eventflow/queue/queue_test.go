package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	"github.com/randalmurphal/eventflow/pkg/eventflow/formatter"
)

type invoiceIssued struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int    `json:"amount"`
}

func (invoiceIssued) EventName() string { return "invoice.issued" }

type invoicePaid struct {
	InvoiceID string `json:"invoice_id"`
}

func (invoicePaid) EventName() string { return "invoice.paid" }

type fixture struct {
	catalog    *eventflow.Catalog
	factory    *eventflow.DescriptorFactory
	formatters *formatter.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := eventflow.NewCatalog()
	require.NoError(t, eventflow.Declare[invoiceIssued](catalog, eventflow.WithTopic("invoices")))
	require.NoError(t, eventflow.Declare[invoicePaid](catalog, eventflow.WithTopic("payments")))
	factory := eventflow.NewDescriptorFactory(catalog)
	return &fixture{
		catalog: catalog,
		factory: factory,
		formatters: formatter.NewRegistry(
			formatter.NewJSON(catalog, factory),
			formatter.NewYAML(catalog, factory),
		),
	}
}

func (f *fixture) context(t *testing.T, evt eventflow.Event) *eventflow.EventContext {
	t.Helper()
	d, err := f.factory.DescriptorFor(evt)
	require.NoError(t, err)
	ec, err := eventflow.NewEventContext(d, evt)
	require.NoError(t, err)
	return ec
}

func (f *fixture) issued(t *testing.T, n int) []*eventflow.EventContext {
	t.Helper()
	out := make([]*eventflow.EventContext, n)
	for i := range out {
		out[i] = f.context(t, invoiceIssued{InvoiceID: string(rune('a' + i)), Amount: i})
	}
	return out
}

func offsets(t *testing.T, batch []*eventflow.EventContext) []eventflow.Offset {
	t.Helper()
	out := make([]eventflow.Offset, len(batch))
	for i, ec := range batch {
		off, ok := ec.Offset()
		require.True(t, ok, "entry %d has no offset", i)
		out[i] = off
	}
	return out
}
