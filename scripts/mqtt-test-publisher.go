// Command mqtt-test-publisher simulates a fleet of AIS-equipped vessels and
// publishes their position/identity reports to an MQTT broker, for
// exercising the ingestion pipeline without a live AIS feed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TestConfig controls the simulated fleet and publish cadence.
type TestConfig struct {
	BrokerURL     string
	SSVIDs        []int64
	PublishRate   time.Duration
	MaxMessages   int
	ClientID      string
	RandomSeed    int64
	StartLat      float64
	StartLon      float64
	MovementSpeed float64 // knots
}

// vesselState is one simulated vessel's kinematic state between publishes.
type vesselState struct {
	SSVID      int64
	ShipName   string
	Lat        float64
	Lon        float64
	SpeedKn    float64
	CourseDeg  float64
	LastUpdate time.Time
}

// wireMessage mirrors internal/ingest.WireMessage so the script does not
// need to import the ingest package just to produce its JSON shape.
type wireMessage struct {
	ID        string    `json:"id"`
	SSVID     int64     `json:"ssvid"`
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Course    *float64  `json:"course,omitempty"`
	Type      int       `json:"type"`
	ShipName  *string   `json:"shipname,omitempty"`
}

type testPublisher struct {
	client   mqtt.Client
	config   *TestConfig
	rand     *rand.Rand
	vessels  map[int64]*vesselState
	topicFor func(ssvid int64) string
}

func main() {
	var (
		brokerURL   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		ssvidsStr   = flag.String("ssvids", "366123456,367987654,368555000", "SSVIDs (comma-separated)")
		rate        = flag.Duration("rate", 2*time.Second, "publish rate per vessel")
		maxMessages = flag.Int("max", 0, "max messages (0 = unlimited)")
		clientID    = flag.String("client", "aissegment-test-publisher", "MQTT client ID")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		lat         = flag.Float64("lat", 37.8, "start latitude")
		lon         = flag.Float64("lon", -122.4, "start longitude")
		speed       = flag.Float64("speed", 12.0, "movement speed in knots")
		topicPrefix = flag.String("topic-prefix", "ais", "MQTT topic prefix, published as {prefix}/{ssvid}/messages")
	)
	flag.Parse()

	config := &TestConfig{
		BrokerURL:     *brokerURL,
		SSVIDs:        parseInt64Slice(*ssvidsStr),
		PublishRate:   *rate,
		MaxMessages:   *maxMessages,
		ClientID:      *clientID,
		RandomSeed:    *seed,
		StartLat:      *lat,
		StartLon:      *lon,
		MovementSpeed: *speed,
	}

	publisher, err := newTestPublisher(config, *topicPrefix)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	fmt.Printf("publishing simulated AIS traffic\n")
	fmt.Printf("broker: %s\n", config.BrokerURL)
	fmt.Printf("vessels: %v\n", config.SSVIDs)
	fmt.Printf("rate: %v per vessel\n", config.PublishRate)
	fmt.Printf("start position: %.4f, %.4f\n", config.StartLat, config.StartLon)
	if config.MaxMessages > 0 {
		fmt.Printf("max messages: %d\n", config.MaxMessages)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		publisher.run()
		close(done)
	}()

	select {
	case <-sigChan:
		fmt.Println("received shutdown signal")
		publisher.stop()
	case <-done:
		fmt.Println("publishing complete")
	}
}

func newTestPublisher(config *TestConfig, topicPrefix string) (*testPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	fmt.Println("connected to MQTT broker")

	rng := rand.New(rand.NewSource(config.RandomSeed))
	vessels := make(map[int64]*vesselState, len(config.SSVIDs))
	for i, ssvid := range config.SSVIDs {
		vessels[ssvid] = &vesselState{
			SSVID:      ssvid,
			ShipName:   fmt.Sprintf("TESTVESSEL %d", i+1),
			Lat:        config.StartLat + rng.Float64()*0.5 - 0.25,
			Lon:        config.StartLon + rng.Float64()*0.5 - 0.25,
			SpeedKn:    config.MovementSpeed * (0.8 + rng.Float64()*0.4),
			CourseDeg:  rng.Float64() * 360,
			LastUpdate: time.Now(),
		}
	}

	return &testPublisher{
		client:  client,
		config:  config,
		rand:    rng,
		vessels: vessels,
		topicFor: func(ssvid int64) string {
			return fmt.Sprintf("%s/%d/messages", topicPrefix, ssvid)
		},
	}, nil
}

func (p *testPublisher) run() {
	ticker := time.NewTicker(p.config.PublishRate)
	defer ticker.Stop()

	count := 0
	seq := 0
	for range ticker.C {
		for _, v := range p.vessels {
			p.advance(v)
			seq++
			if err := p.publish(v, seq); err != nil {
				log.Printf("publish error: %v", err)
				continue
			}
			count++
			if count%10 == 0 {
				fmt.Printf("published %d messages\n", count)
			}
		}
		if p.config.MaxMessages > 0 && count >= p.config.MaxMessages {
			fmt.Printf("reached message limit: %d\n", count)
			return
		}
	}
}

func (p *testPublisher) stop() {
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
		fmt.Println("disconnected from MQTT broker")
	}
}

// advance dead-reckons the vessel forward from its speed/course and applies
// a small random course/speed drift, so the simulated track looks organic
// rather than perfectly straight.
func (p *testPublisher) advance(v *vesselState) {
	now := time.Now()
	dtHours := now.Sub(v.LastUpdate).Hours()
	v.LastUpdate = now

	distNM := v.SpeedKn * dtHours
	headingRad := v.CourseDeg * math.Pi / 180
	v.Lat += distNM / 60 * math.Cos(headingRad)
	v.Lon += distNM / (60 * math.Cos(v.Lat*math.Pi/180)) * math.Sin(headingRad)

	if p.rand.Float64() < 0.1 {
		v.CourseDeg = math.Mod(v.CourseDeg+p.rand.Float64()*20-10+360, 360)
	}
	if p.rand.Float64() < 0.1 {
		v.SpeedKn = math.Max(0, v.SpeedKn+p.rand.Float64()*4-2)
	}
}

func (p *testPublisher) publish(v *vesselState, seq int) error {
	lat, lon, speed, course := v.Lat, v.Lon, v.SpeedKn, v.CourseDeg
	msg := wireMessage{
		ID:        fmt.Sprintf("%d-%d", v.SSVID, seq),
		SSVID:     v.SSVID,
		Timestamp: time.Now().UTC(),
		Lat:       &lat,
		Lon:       &lon,
		Speed:     &speed,
		Course:    &course,
		Type:      1,
		ShipName:  &v.ShipName,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	topic := p.topicFor(v.SSVID)
	token := p.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

func parseInt64Slice(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			log.Fatalf("invalid ssvid %q: %v", part, err)
		}
		out = append(out, val)
	}
	return out
}
