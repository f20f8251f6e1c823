package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmunro/smppgate/internal/config"
)

func TestRegistry(t *testing.T) {
	deps := Deps{Transport: testTransportConfig(), IDs: &fakeIDs{}}

	sm, err := NewShortMessage("default", config.DefaultProcessorConfig(), deps)
	require.NoError(t, err)
	assert.IsType(t, &DefaultShortMessage{}, sm)

	dr, err := NewDeliveryReport("default", config.DefaultProcessorConfig(), deps)
	require.NoError(t, err)
	assert.IsType(t, &DefaultDeliveryReport{}, dr)

	_, err = NewShortMessage("bespoke", config.DefaultProcessorConfig(), deps)
	assert.ErrorContains(t, err, "unknown short message processor")

	_, err = NewDeliveryReport("bespoke", config.DefaultProcessorConfig(), deps)
	assert.ErrorContains(t, err, "unknown delivery report processor")
}

func TestDeliveryReportRequiresIDLookup(t *testing.T) {
	_, err := NewDeliveryReport("default", config.DefaultProcessorConfig(), Deps{})
	assert.Error(t, err)
}
