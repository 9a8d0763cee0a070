// Command alert_sink is a local webhook receiver that logs every alert the
// service delivers.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"guardian-angel/internal/model"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	addr := os.Getenv("ALERT_SINK_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	http.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var alert model.AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			logger.WithError(err).Warn("undecodable alert")
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		entry := logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"kind":     alert.Kind,
			"user_id":  alert.UserID,
			"contacts": len(alert.Contacts),
		})
		if alert.MapsURL != "" {
			entry = entry.WithField("maps_url", alert.MapsURL)
		}
		for _, z := range alert.Zones {
			entry = entry.WithField("zone_"+z.ID, z.Level)
		}
		entry.Info("received alert")

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logger.WithField("addr", addr).Info("Alert sink listening")
	logger.Fatal(http.ListenAndServe(addr, nil))
}
