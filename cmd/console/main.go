// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/console/main.go
//
// A terminal client that subscribes to the pipeline's joint-angle topic
// and prints the latest readings, generalizing the teacher's
// console_mqtt.go roll/pitch/yaw print loop to multi-joint output.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/danstonedev/MASH-sub003/internal/config"
)

type jointOut struct {
	Flexion   float64 `json:"flexion"`
	Abduction float64 `json:"abduction"`
	Rotation  float64 `json:"rotation"`
	InRange   bool    `json:"in_range"`
}

type jointAnglesMessage struct {
	FrameNumber uint32              `json:"frame_number"`
	TimestampUs uint32              `json:"timestamp_us"`
	Joints      map[string]jointOut `json:"joints"`
}

func main() {
	configPath := flag.String("config", "inertial_config.txt", "path to the pipeline config file")
	flag.Parse()

	log.Println("starting console (joint-angle monitor)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker).SetClientID(cfg.MQTTClientIDConsole)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to MQTT broker: %v", token.Error())
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var out jointAnglesMessage
		if err := json.Unmarshal(msg.Payload(), &out); err != nil {
			log.Printf("console: malformed joint-angles message: %v", err)
			return
		}
		printJointAngles(out)
	}

	if token := client.Subscribe(cfg.TopicJointAngles, 0, handler); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to subscribe to %s: %v", cfg.TopicJointAngles, token.Error())
	}

	select {}
}

func printJointAngles(out jointAnglesMessage) {
	ids := make([]string, 0, len(out.Joints))
	for id := range out.Joints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("frame=%d t=%dus\n", out.FrameNumber, out.TimestampUs)
	for _, id := range ids {
		a := out.Joints[id]
		flag := ""
		if !a.InRange {
			flag = " (out of range)"
		}
		fmt.Printf("  %-10s flex=%7.2f  abd=%7.2f  rot=%7.2f%s\n", id, a.Flexion, a.Abduction, a.Rotation, flag)
	}
}
