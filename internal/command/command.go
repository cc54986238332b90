// Package command turns client command lines into the structured form that
// is stored in the replicated log and consumed by the sensor state machine.
package command

import (
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Command.
type Kind int

const (
	// KindRaw is free text with no state machine effect. Malformed heartbeat
	// and data commands also end up here.
	KindRaw Kind = iota
	KindHeartbeat
	KindSensorData
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindHeartbeat:
		return "heartbeat"
	case KindSensorData:
		return "sensor_data"
	default:
		return "unknown"
	}
}

const (
	verbHeartbeat = "HEARTBEAT"
	verbData      = "DATA"

	fieldNode     = "node"
	fieldTemp     = "temp"
	fieldHumidity = "humidity"
)

// Command is a parsed log command. Text is always the original command line
// and is what gets replicated; the typed fields are valid only for the Kind
// they belong to.
type Command struct {
	Kind        Kind
	Text        string
	NodeID      int
	Temperature int
	Humidity    int
}

// Heartbeat builds a heartbeat command for a sensor node.
func Heartbeat(node int) Command {
	return Command{
		Kind:   KindHeartbeat,
		Text:   verbHeartbeat + " " + fieldNode + "=" + strconv.Itoa(node),
		NodeID: node,
	}
}

// SensorData builds a measurement command for a sensor node.
func SensorData(node, temperature, humidity int) Command {
	return Command{
		Kind: KindSensorData,
		Text: verbData + " " +
			fieldNode + "=" + strconv.Itoa(node) + " " +
			fieldTemp + "=" + strconv.Itoa(temperature) + " " +
			fieldHumidity + "=" + strconv.Itoa(humidity),
		NodeID:      node,
		Temperature: temperature,
		Humidity:    humidity,
	}
}

// Raw wraps free text without interpreting it.
func Raw(text string) Command {
	return Command{Kind: KindRaw, Text: text}
}

// Parse classifies a command line. It never fails: anything that is not a
// well formed heartbeat or data command comes back as KindRaw.
//
// Accepted forms:
//
//	HEARTBEAT node=<int>
//	HEARTBEAT node <int>
//	DATA node=<int> temp=<int> humidity=<int>   (fields in any order)
func Parse(text string) Command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Raw(text)
	}

	switch fields[0] {
	case verbHeartbeat:
		node, ok := intField(fields[1:], fieldNode)
		if !ok {
			return Raw(text)
		}
		return Command{Kind: KindHeartbeat, Text: text, NodeID: node}

	case verbData:
		node, ok1 := intField(fields[1:], fieldNode)
		temp, ok2 := intField(fields[1:], fieldTemp)
		hum, ok3 := intField(fields[1:], fieldHumidity)
		if !ok1 || !ok2 || !ok3 {
			return Raw(text)
		}
		return Command{Kind: KindSensorData, Text: text, NodeID: node, Temperature: temp, Humidity: hum}
	}

	return Raw(text)
}

// intField finds key=<int> among fields. "key <int>" is also accepted.
func intField(fields []string, key string) (int, bool) {
	for i, f := range fields {
		if v, ok := strings.CutPrefix(f, key+"="); ok {
			n, err := strconv.Atoi(v)
			return n, err == nil
		}
		if f == key && i+1 < len(fields) {
			n, err := strconv.Atoi(fields[i+1])
			return n, err == nil
		}
	}
	return 0, false
}

func (c Command) String() string {
	return c.Text
}
