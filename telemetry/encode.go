// Package telemetry turns supervisor reports into JSON documents and ships them.
package telemetry

import (
	"encoding/json"
	"math"

	"github.com/mklimuk/bsp/supervisor"
)

type sensorDoc struct {
	On   int                   `json:"on"`
	Stat map[string][6]float64 `json:"stat,omitempty"`
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Encode renders reports as one JSON object keyed by sensor name:
//
//	{"dps368-1":{"on":1,"stat":{"pressure":[min,max,mean,rms,std,var]}}}
//
// Values are rounded to 4 decimal places. Switched off sensors carry no statistics.
func Encode(reports []supervisor.Report) ([]byte, error) {
	doc := make(map[string]sensorDoc, len(reports))
	for _, r := range reports {
		d := sensorDoc{}
		if r.On {
			d.On = 1
			if len(r.Stats) > 0 {
				d.Stat = make(map[string][6]float64, len(r.Stats))
			}
			for feature, s := range r.Stats {
				var vals [6]float64
				for i, v := range s.Values() {
					vals[i] = round4(v)
				}
				d.Stat[feature] = vals
			}
		}
		doc[r.Name] = d
	}
	return json.Marshal(doc)
}
