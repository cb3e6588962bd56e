package acquisition

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// nodataPercentage extracts the NODATA_PIXEL_PERCENTAGE quality indicator
// from a product metadata file. The element is searched by local name so the
// parse does not depend on the namespace prefixes of the product baseline.
func nodataPercentage(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("nodataPercentage: %w", err)
	}
	defer f.Close()

	decoder := xml.NewDecoder(f)
	for {
		token, err := decoder.Token()
		if err != nil {
			return 0, fmt.Errorf("nodataPercentage: NODATA_PIXEL_PERCENTAGE not found in %s", path)
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "NODATA_PIXEL_PERCENTAGE" {
			continue
		}
		var value string
		if err := decoder.DecodeElement(&value, &start); err != nil {
			return 0, fmt.Errorf("nodataPercentage.DecodeElement: %w", err)
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("nodataPercentage.ParseFloat: %w", err)
		}
		return pct, nil
	}
}
