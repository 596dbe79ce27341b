package sms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

type mockCreator struct {
	mock.Mock
	delay time.Duration
}

func (m *mockCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	args := m.Called(*params.To, *params.From, *params.Body)
	if msg, ok := args.Get(0).(*twilioApi.ApiV2010Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{"already E.164", "+14155550100", "+14155550100"},
		{"national with trunk zero", "0803 123 4567", "+2348031234567"},
		{"national without trunk zero", "8031234567", "+2348031234567"},
		{"international 00 prefix", "0044 20 7946 0958", "+442079460958"},
		{"punctuation stripped", "(0803) 123-4567", "+2348031234567"},
		{"empty", "   ", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizePhone(tc.raw, "+234"))
		})
	}

	assert.Equal(t, "+447700900123", NormalizePhone("07700900123", "44"))
}

func TestConstructors_Unavailable(t *testing.T) {
	_, err := NewSMSChannel(Config{SMSFrom: "+1555"}, zerolog.Nop())
	assert.ErrorIs(t, err, fallback.ErrChannelUnavailable)

	_, err = NewWhatsAppChannel(Config{AccountSID: "AC1", AuthToken: "tok"}, zerolog.Nop())
	assert.ErrorIs(t, err, fallback.ErrChannelUnavailable)
}

func TestNewWhatsAppChannel_PrefixesSender(t *testing.T) {
	c, err := NewWhatsAppChannel(Config{AccountSID: "AC1", AuthToken: "tok", WhatsAppFrom: "+14155238886"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", c.from)
	assert.Equal(t, "whatsapp", c.Name())
}

func TestChannel_Address(t *testing.T) {
	smsCh := newChannel("sms", "+1555", false, "", new(mockCreator), zerolog.Nop())
	waCh := newChannel("whatsapp", "whatsapp:+1555", true, "", new(mockCreator), zerolog.Nop())
	contact := fallback.Contact{Phone: "08031234567"}

	assert.Equal(t, "+2348031234567", smsCh.Address(contact))
	assert.Equal(t, "whatsapp:+2348031234567", waCh.Address(contact))
	assert.Empty(t, smsCh.Address(fallback.Contact{}))
}

func TestChannel_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		api := new(mockCreator)
		sid := "SM123"
		api.On("CreateMessage", "+2348031234567", "+1555", "🚨 ALERT: hi").
			Return(&twilioApi.ApiV2010Message{Sid: &sid}, nil)
		c := newChannel("sms", "+1555", false, "", api, zerolog.Nop())

		require.NoError(t, c.Send(ctx, "+2348031234567", "🚨 ALERT: hi"))
		api.AssertExpectations(t)
	})

	t.Run("Failure - api error", func(t *testing.T) {
		api := new(mockCreator)
		api.On("CreateMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("21211 invalid To"))
		c := newChannel("sms", "+1555", false, "", api, zerolog.Nop())

		err := c.Send(ctx, "+1", "hi")
		assert.ErrorContains(t, err, "21211")
	})

	t.Run("Timeout", func(t *testing.T) {
		api := &mockCreator{delay: 200 * time.Millisecond}
		api.On("CreateMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
		c := newChannel("sms", "+1555", false, "", api, zerolog.Nop())

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Send(tctx, "+1", "hi"), context.DeadlineExceeded)
	})
}
