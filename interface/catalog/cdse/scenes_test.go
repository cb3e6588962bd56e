package cdse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"testing"
	"time"

	"github.com/paulsmith/gogeos/geos"

	"github.com/s2coastalbot/s2coastalbot/interface/catalog"
)

const restoFeature = `{
	"id": "c6ff9c48-8a66-4f13-8f40-a2f2bf33a2a1",
	"geometry": {"type": "Polygon", "coordinates": [[[-52.4,63.9],[-52.4,64.9],[-50.1,64.9],[-50.1,63.9],[-52.4,63.9]]]},
	"properties": {
		"title": "S2B_MSIL2A_20230901T150719_N0509_R082_T22WES_20230901T175756.SAFE",
		"startDate": "2023-09-01T15:07:19.024Z",
		"completionDate": "2023-09-01T15:07:19.024Z",
		"productType": "S2MSI2A",
		"cloudCover": 12.5
	}
}`

func testAOI(t *testing.T) *geos.Geometry {
	aoi, err := geos.NewPoint(geos.NewCoord(-51.7, 64.2))
	if err != nil {
		t.Fatal(err)
	}
	return aoi
}

func TestSearch(t *testing.T) {
	var queries []neturl.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query())
		fmt.Fprintf(w, `{"features": [%s]}`, restoFeature)
	}))
	defer server.Close()

	client := Client{BaseURL: server.URL}
	from := time.Date(2023, 8, 26, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	products, err := client.Search(context.Background(), testAOI(t), from, to, "S2MSI2A", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 {
		t.Fatalf("expecting 1 product, found %d", len(products))
	}
	product := products[0]
	if product.ID != "c6ff9c48-8a66-4f13-8f40-a2f2bf33a2a1" {
		t.Errorf("unexpected product id %s", product.ID)
	}
	if product.Name() != "S2B_MSIL2A_20230901T150719_N0509_R082_T22WES_20230901T175756" {
		t.Errorf("unexpected product name %s", product.Name())
	}
	if !product.CompletionDate.Equal(time.Date(2023, 9, 1, 15, 7, 19, 24000000, time.UTC)) {
		t.Errorf("unexpected completion date %s", product.CompletionDate)
	}
	if product.CloudCover != 12.5 {
		t.Errorf("expecting cloud cover 12.5, found %g", product.CloudCover)
	}
	if product.Footprint == nil {
		t.Error("expecting a footprint geometry")
	}

	query := queries[0]
	if pt := query.Get("productType"); pt != "S2MSI2A" {
		t.Errorf("expecting productType S2MSI2A, found %s", pt)
	}
	if cc := query.Get("cloudCover"); cc != "[0,30]" {
		t.Errorf("expecting cloudCover [0,30], found %s", cc)
	}
	if sd := query.Get("startDate"); sd != "2023-08-26T00:00:00Z" {
		t.Errorf("expecting startDate 2023-08-26T00:00:00Z, found %s", sd)
	}
	if query.Get("geometry") == "" {
		t.Error("expecting a geometry filter")
	}
}

func TestSearchEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features": []}`)
	}))
	defer server.Close()

	client := Client{BaseURL: server.URL}
	products, err := client.Search(context.Background(), testAOI(t), time.Now().Add(-time.Hour), time.Now(), "S2MSI2A", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 0 {
		t.Errorf("expecting no products, found %d", len(products))
	}
}

func TestSearchPagination(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("page") == "1" {
			// Full first page forces a second request
			fmt.Fprintf(w, `{"features": [%s, %s]}`, restoFeature, restoFeature)
			return
		}
		fmt.Fprintf(w, `{"features": [%s]}`, restoFeature)
	}))
	defer server.Close()

	client := Client{BaseURL: server.URL, Limit: 2}
	products, err := client.Search(context.Background(), testAOI(t), time.Now().Add(-time.Hour), time.Now(), "S2MSI2A", 30)
	if err != nil {
		t.Fatal(err)
	}
	if pages != 2 {
		t.Errorf("expecting 2 page requests, found %d", pages)
	}
	if len(products) != 3 {
		t.Errorf("expecting 3 products, found %d", len(products))
	}
}

func TestSearchUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", 400)
	}))
	defer server.Close()

	client := Client{BaseURL: server.URL}
	_, err := client.Search(context.Background(), testAOI(t), time.Now().Add(-time.Hour), time.Now(), "S2MSI2A", 30)
	var unavailable catalog.ErrUnavailable
	if !errors.As(err, &unavailable) {
		t.Errorf("expecting catalog.ErrUnavailable, found %v", err)
	}
}
