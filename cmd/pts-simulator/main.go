// pts-simulator is a development tool that impersonates a PTS
// controller: it connects to the server, replays a handful of upload
// requests and prints every response it receives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
)

func main() {
	var serverURL string
	var ptsID string
	var interval time.Duration
	flag.StringVar(&serverURL, "url", "ws://localhost:3000/ptsWebSocket", "Server WebSocket URL")
	flag.StringVar(&ptsID, "pts-id", "SIM-0001", "Controller identifier")
	flag.DurationVar(&interval, "interval", 5*time.Second, "Delay between requests")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	header := http.Header{}
	header.Set("X-Pts-Id", ptsID)
	header.Set("X-Pts-Firmware-Version-Datetime", "2024-11-20T10:00:00")
	header.Set("X-Pts-Configuration-Identifier", "sim-config-1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(serverURL, header)
	if err != nil {
		log.Fatal().Err(err).Str("url", serverURL).Msg("Connection failed")
	}
	defer conn.Close()

	log.Info().Str("pts_id", ptsID).Str("url", serverURL).Msg("Connected")

	// Print everything the server sends
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Msg("Connection closed")
				os.Exit(0)
			}
			fmt.Printf("<- %s\n", data)
		}
	}()

	requests := sampleRequests(ptsID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	packetID := 1
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		msg := requests[i%len(requests)]
		msg.PacketID = packetID
		packetID++
		if packetID > 65535 {
			packetID = 1
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			log.Fatal().Err(err).Msg("Marshal failed")
		}

		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Fatal().Err(err).Msg("Write failed")
		}
		fmt.Printf("-> %s\n", payload)

		select {
		case <-ticker.C:
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Stopping")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			time.Sleep(time.Second)
			return
		}
	}
}

type outboundMessage struct {
	Type     string           `json:"type"`
	PacketID int              `json:"packetId"`
	Data     models.Variables `json:"data"`
}

func sampleRequests(ptsID string) []outboundMessage {
	return []outboundMessage{
		{
			Type: models.MessageTypeUploadPumpTransaction,
			Data: models.Variables{
				"pumpId":        "1",
				"nozzleId":      "2",
				"fuelType":      "DIESEL",
				"volume":        42.7,
				"amount":        61.5,
				"tagId":         "TAG-123",
				"transactionId": fmt.Sprintf("%s-%d", ptsID, time.Now().Unix()),
			},
		},
		{
			Type: models.MessageTypeUploadTankMeasurement,
			Data: models.Variables{
				"tankId":      "1",
				"fuelType":    "DIESEL",
				"level":       1520.0,
				"volume":      9800.5,
				"temperature": 14.2,
			},
		},
		{
			Type: models.MessageTypeUploadStatus,
			Data: models.Variables{
				"systemStatus": "IDLE",
				"pumps":        []interface{}{},
			},
		},
		{
			Type: models.MessageTypeRequestTagBalance,
			Data: models.Variables{
				"tagId": "TAG-123",
			},
		},
		{
			Type: models.MessageTypePing,
			Data: models.Variables{},
		},
	}
}
