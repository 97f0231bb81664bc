package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iotgrid/hub/internal/config"
	"github.com/iotgrid/hub/internal/store"
	"github.com/iotgrid/hub/internal/types"
)

var nodeImportCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Import a node and sensor catalog",
	Long: `Import sensor types, sensors, nodes, and assignments from a YAML
catalog file into the hub database. Records reference each other by
code (sensor types, sensors) and hardware ID (nodes); ULIDs are
assigned on insert. Importing a record that already exists fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		summary, err := importCatalog(cmd.Context(), db, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Imported %d sensor types, %d sensors, %d nodes, %d assignments\n",
			summary.SensorTypes, summary.Sensors, summary.Nodes, summary.Assignments)
		return nil
	},
}

type catalogFile struct {
	HubID       string              `yaml:"hub_id"`
	SensorTypes []catalogSensorType `yaml:"sensor_types"`
	Sensors     []catalogSensor     `yaml:"sensors"`
	Nodes       []catalogNode       `yaml:"nodes"`
	Assignments []catalogAssignment `yaml:"assignments"`
}

type catalogCapability struct {
	MeasurementType string `yaml:"measurement_type"`
	Unit            string `yaml:"unit"`
}

type catalogSensorType struct {
	Code             string              `yaml:"code"`
	Name             string              `yaml:"name"`
	Protocol         string              `yaml:"protocol"`
	IntervalSeconds  int                 `yaml:"default_interval_seconds"`
	OffsetCorrection float64             `yaml:"default_offset_correction"`
	GainCorrection   float64             `yaml:"default_gain_correction"`
	Capabilities     []catalogCapability `yaml:"capabilities"`
}

type catalogSensor struct {
	Code             string   `yaml:"code"`
	Type             string   `yaml:"type"` // sensor type code
	Name             string   `yaml:"name"`
	IntervalSeconds  *int     `yaml:"interval_seconds"`
	OffsetCorrection *float64 `yaml:"offset_correction"`
	GainCorrection   *float64 `yaml:"gain_correction"`
}

type catalogNode struct {
	HardwareID      string `yaml:"hardware_id"`
	Name            string `yaml:"name"`
	Location        string `yaml:"location"`
	Protocol        string `yaml:"protocol"`
	FirmwareVersion string `yaml:"firmware_version"`
	IsSimulation    bool   `yaml:"is_simulation"`
	StorageMode     string `yaml:"storage_mode"`
}

type catalogAssignment struct {
	Node            string  `yaml:"node"`   // node hardware ID
	Sensor          string  `yaml:"sensor"` // sensor code
	Endpoint        int     `yaml:"endpoint"`
	Alias           *string `yaml:"alias"`
	IntervalSeconds *int    `yaml:"interval_seconds"`
}

type importSummary struct {
	SensorTypes int
	Sensors     int
	Nodes       int
	Assignments int
}

// importCatalog loads a YAML catalog into the store. Creation order
// follows the reference chain: types, then sensors, then nodes, then
// assignments. The import is not transactional; a failure partway
// leaves earlier records in place.
func importCatalog(ctx context.Context, db *store.SQLiteStore, r io.Reader) (importSummary, error) {
	var summary importSummary

	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return summary, fmt.Errorf("parse catalog: %w", err)
	}
	if file.HubID == "" {
		return summary, fmt.Errorf("catalog missing hub_id")
	}

	typeIDs := make(map[string]string, len(file.SensorTypes))
	for _, ct := range file.SensorTypes {
		st := &types.SensorType{
			Code:                    ct.Code,
			Name:                    ct.Name,
			Protocol:                types.Protocol(ct.Protocol),
			DefaultIntervalSeconds:  ct.IntervalSeconds,
			DefaultOffsetCorrection: ct.OffsetCorrection,
			DefaultGainCorrection:   ct.GainCorrection,
		}
		if st.DefaultIntervalSeconds == 0 {
			st.DefaultIntervalSeconds = 60
		}
		if st.DefaultGainCorrection == 0 {
			st.DefaultGainCorrection = 1.0
		}
		for _, c := range ct.Capabilities {
			st.Capabilities = append(st.Capabilities, types.Capability{
				MeasurementType: c.MeasurementType,
				Unit:            c.Unit,
			})
		}
		if err := db.CreateSensorType(ctx, st); err != nil {
			return summary, fmt.Errorf("sensor type %s: %w", ct.Code, err)
		}
		typeIDs[ct.Code] = st.ID
		summary.SensorTypes++
	}

	sensorIDs := make(map[string]string, len(file.Sensors))
	for _, cs := range file.Sensors {
		typeID, ok := typeIDs[cs.Type]
		if !ok {
			return summary, fmt.Errorf("sensor %s references unknown type %s", cs.Code, cs.Type)
		}
		sensor := &types.Sensor{
			SensorTypeID:            typeID,
			Code:                    cs.Code,
			Name:                    cs.Name,
			IntervalSecondsOverride: cs.IntervalSeconds,
			OffsetCorrection:        cs.OffsetCorrection,
			GainCorrection:          cs.GainCorrection,
			IsActive:                true,
		}
		if err := db.CreateSensor(ctx, sensor); err != nil {
			return summary, fmt.Errorf("sensor %s: %w", cs.Code, err)
		}
		sensorIDs[cs.Code] = sensor.ID
		summary.Sensors++
	}

	nodeIDs := make(map[string]string, len(file.Nodes))
	for _, cn := range file.Nodes {
		node := &types.Node{
			HubID:           file.HubID,
			HardwareID:      cn.HardwareID,
			Name:            cn.Name,
			Location:        cn.Location,
			Protocol:        types.Protocol(cn.Protocol),
			FirmwareVersion: cn.FirmwareVersion,
			IsSimulation:    cn.IsSimulation,
			StorageMode:     types.StorageMode(cn.StorageMode),
		}
		if node.StorageMode == "" {
			node.StorageMode = types.StorageModeNone
		}
		if err := db.CreateNode(ctx, node); err != nil {
			return summary, fmt.Errorf("node %s: %w", cn.HardwareID, err)
		}
		nodeIDs[cn.HardwareID] = node.ID
		summary.Nodes++
	}

	for _, ca := range file.Assignments {
		nodeID, ok := nodeIDs[ca.Node]
		if !ok {
			return summary, fmt.Errorf("assignment references unknown node %s", ca.Node)
		}
		sensorID, ok := sensorIDs[ca.Sensor]
		if !ok {
			return summary, fmt.Errorf("assignment references unknown sensor %s", ca.Sensor)
		}
		a := &types.Assignment{
			NodeID:                  nodeID,
			SensorID:                sensorID,
			EndpointID:              ca.Endpoint,
			Alias:                   ca.Alias,
			IntervalSecondsOverride: ca.IntervalSeconds,
			IsActive:                true,
		}
		if err := db.CreateAssignment(ctx, a); err != nil {
			return summary, fmt.Errorf("assignment %s/%d: %w", ca.Node, ca.Endpoint, err)
		}
		summary.Assignments++
	}

	return summary, nil
}
