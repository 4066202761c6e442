// internal/client/uno.go
package client

import (
	"encoding/json"

	"github.com/jason-s-yu/tablesync/internal/game/uno"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// PredictUno adapts uno.Predict to the wire action shape.
func PredictUno(v uno.View, in protocol.ActionData) (uno.View, error) {
	return uno.Predict(v, uno.Action{
		Type:   uno.ActionType(in.Action),
		Actor:  v.ParticipantID,
		CardID: in.CardID,
		Color:  uno.Color(in.Color),
		Target: in.Target,
	})
}

func decodeUno(raw json.RawMessage) (uno.View, error) {
	var v uno.View
	err := json.Unmarshal(raw, &v)
	return v, err
}

// NewUno builds a client for uno tables.
func NewUno(cfg Config, dialer Dialer, observer ConnectivityObserver, logger *logrus.Logger) *Client[uno.View] {
	return New(cfg, dialer, observer, decodeUno, PredictUno, logger)
}
