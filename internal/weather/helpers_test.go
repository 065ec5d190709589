package weather

import (
	"io"
	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const successPayload = `{
  "status": "success",
  "data": {
    "city": "Los Angeles",
    "state": "California",
    "country": "USA",
    "location": {"type": "Point", "coordinates": [-118.2417, 34.0669]},
    "current": {
      "weather": {"ts": "2024-05-01T18:00:00.000Z", "tp": 25, "pr": 1013, "hu": 60},
      "pollution": {
        "ts": "2024-05-01T17:00:00.000Z",
        "aqius": 75, "mainus": "p2", "aqicn": 40, "maincn": "p1",
        "p2": {"conc": 23.1, "aqius": 75, "aqicn": 33},
        "p1": {"conc": 30, "aqius": 28, "aqicn": 30},
        "o3": {"conc": 40, "aqius": 31, "aqicn": 12},
        "n2": {"conc": 20, "aqius": 5, "aqicn": 10},
        "s2": {"conc": 10, "aqius": 1, "aqicn": 3},
        "co": {"conc": 1.145, "aqius": 9, "aqicn": 11}
      }
    }
  }
}`

const minimalPayload = `{
  "status": "success",
  "data": {
    "city": "Paris",
    "state": "Ile-de-France",
    "country": "France",
    "current": {
      "weather": {"ts": "2024-05-01T18:00:00.000Z", "tp": 18, "pr": 1009, "hu": 71},
      "pollution": {"ts": "2024-05-01T18:00:00.000Z", "aqius": 75, "mainus": "p2", "aqicn": 40, "maincn": "p2"}
    }
  }
}`
