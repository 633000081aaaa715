package params

import (
	"fmt"
	"strings"
)

// Category is a display grouping derived from the parameter name prefix. It
// is independent of the schema group path and works for unresolved entries.
type Category int

const (
	CategoryQuadPlane Category = iota
	CategoryPIDAttitude
	CategoryPIDPosition
	CategoryTECS
	CategoryServos
	CategoryOSD
	CategoryFailsafe
	CategorySerial
	CategoryGPS
	CategoryBattery
	CategorySensors
	CategoryCamera
	CategoryMission
	CategoryLogging
	CategoryRelay
	CategorySystem
	CategoryTerrain
	CategoryAirspeed
	CategoryOther
)

type RGB struct {
	R, G, B uint8
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

type categoryInfo struct {
	key      string
	name     string
	color    RGB
	prefixes []string
}

// Table order matters: the first category with a matching prefix wins.
var categories = [...]categoryInfo{
	CategoryQuadPlane:   {"quadplane", "QuadPlane (Q_)", RGB{138, 43, 226}, []string{"Q_"}},
	CategoryPIDAttitude: {"pid-attitude", "PID Controllers (Attitude)", RGB{220, 20, 60}, []string{"ATC_", "PTCH", "RLL", "YAW", "RATE_", "P_", "ACRO_"}},
	CategoryPIDPosition: {"pid-position", "PID Controllers (Position)", RGB{255, 69, 0}, []string{"PSC_", "POS_", "VEL_", "LOIT_", "WPNAV_"}},
	CategoryTECS:        {"tecs", "TECS (Energy Control)", RGB{0, 128, 128}, []string{"TECS_", "PTCH2SRV_", "THR_"}},
	CategoryServos:      {"servos", "Servos & Outputs", RGB{34, 139, 34}, []string{"SERVO", "RC", "MOT_", "OUTPUT_"}},
	CategoryOSD:         {"osd", "On-Screen Display", RGB{255, 215, 0}, []string{"OSD_", "OSD1_", "OSD2_", "OSD3_", "OSD4_", "OSD5_", "OSD6_"}},
	CategoryFailsafe:    {"failsafe", "Failsafe & Safety", RGB{178, 34, 34}, []string{"FS_", "FLTMODE", "LAND_", "RTL_", "BATT_FS_", "FENCE_"}},
	CategorySerial:      {"serial", "Serial Ports", RGB{70, 130, 180}, []string{"SERIAL"}},
	CategoryGPS:         {"gps", "GPS & Navigation", RGB{0, 191, 255}, []string{"GPS_", "EK2_", "EK3_", "AHRS_", "COMPASS_", "MAG_"}},
	CategoryBattery:     {"battery", "Battery & Power", RGB{255, 140, 0}, []string{"BATT_", "BATT2_", "BATT3_"}},
	CategorySensors:     {"sensors", "Sensors", RGB{148, 0, 211}, []string{"INS_", "ARSPD_", "RNGFND_", "BARO_", "IMU_"}},
	CategoryCamera:      {"camera", "Camera & Gimbal", RGB{255, 20, 147}, []string{"CAM_", "MNT_"}},
	CategoryMission:     {"mission", "Mission & Auto", RGB{30, 144, 255}, []string{"AUTO_", "WP_", "MIS_", "CIRCLE_", "GUIDED_"}},
	CategoryLogging:     {"logging", "Logging & Telemetry", RGB{128, 128, 128}, []string{"LOG_", "SR", "STAT_", "NTF_"}},
	CategoryRelay:       {"relay", "Relays & Switches", RGB{139, 69, 19}, []string{"RELAY_", "BTN_"}},
	CategorySystem:      {"system", "System & Scheduler", RGB{105, 105, 105}, []string{"SCHED_", "BRD_", "CAN_", "SIM_", "FORMAT_"}},
	CategoryTerrain:     {"terrain", "Terrain Following", RGB{154, 205, 50}, []string{"TERRAIN_"}},
	CategoryAirspeed:    {"airspeed", "Airspeed Control", RGB{100, 149, 237}, []string{"AIRSPEED_", "ARSPD", "ASPD_"}},
	CategoryOther:       {"other", "Other Parameters", RGB{169, 169, 169}, nil},
}

// CategoryOf classifies a parameter name by prefix, case-insensitively.
func CategoryOf(name string) Category {
	upper := strings.ToUpper(name)
	for i, c := range categories {
		for _, p := range c.prefixes {
			if strings.HasPrefix(upper, p) {
				return Category(i)
			}
		}
	}
	return CategoryOther
}

func (c Category) info() categoryInfo {
	if c < 0 || int(c) >= len(categories) {
		return categories[CategoryOther]
	}
	return categories[c]
}

// String returns the short key used on the command line and in reports.
func (c Category) String() string { return c.info().key }

// DisplayName returns the human-readable category title.
func (c Category) DisplayName() string { return c.info().name }

func (c Category) Color() RGB { return c.info().color }

// Categories lists every category in table order.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i := range categories {
		out[i] = Category(i)
	}
	return out
}

// ParseCategory accepts a category key or display name.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for i, c := range categories {
		if strings.EqualFold(s, c.key) || strings.EqualFold(s, c.name) {
			return Category(i), nil
		}
	}
	return CategoryOther, fmt.Errorf("unknown category %q", s)
}
