package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/CedrosPay/server/internal/config"
	"github.com/CedrosPay/server/internal/provider"
)

// dispatchtest sends one synthetic canonical event straight to the
// configured downstream consumer, bypassing ingestion, so an operator can
// confirm connectivity and auth without replaying a real webhook.
func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	source := flag.String("source", "dispatchtest", "source provider name to report")
	eventType := flag.String("event-type", "test.ping", "event type to report")
	resourceID := flag.String("resource", "synthetic-resource", "resource id used in the synthetic event")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Dispatch.URL == "" {
		log.Fatalf("dispatch.url is not configured")
	}

	event := provider.CanonicalEvent{
		Source:     *source,
		EventType:  *eventType,
		ExternalID: fmt.Sprintf("dispatchtest_%d", time.Now().Unix()),
		ResourceID: *resourceID,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Metadata:   map[string]any{"synthetic": true},
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Fatalf("marshal event: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, cfg.Dispatch.URL, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Source", "webhook_service")
	if cfg.Dispatch.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Dispatch.ServiceToken)
	}

	client := &http.Client{Timeout: cfg.Dispatch.Timeout.Duration}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("send dispatch: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Fatalf("downstream returned status %d", resp.StatusCode)
	}

	fmt.Println("event delivered to", cfg.Dispatch.URL)
}
