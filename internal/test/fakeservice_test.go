package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const csrfToken = "fake-csrf-token"

const metadataV4 = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="Shop" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String"/>
        <Property Name="UnitPrice" Type="Edm.Decimal"/>
        <Property Name="CategoryID" Type="Edm.Int32"/>
        <NavigationProperty Name="Category" Type="Shop.Category"/>
      </EntityType>
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CategoryName" Type="Edm.String"/>
        <NavigationProperty Name="Products" Type="Collection(Shop.Product)"/>
      </EntityType>
      <EntityType Name="OrderLine">
        <Key><PropertyRef Name="OrderID"/><PropertyRef Name="ProductID"/></Key>
        <Property Name="OrderID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
      </EntityType>
      <EntityContainer Name="Container">
        <EntitySet Name="Products" EntityType="Shop.Product"/>
        <EntitySet Name="Categories" EntityType="Shop.Category"/>
        <EntitySet Name="OrderLines" EntityType="Shop.OrderLine"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

const metadataV2 = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <edmx:DataServices m:DataServiceVersion="2.0">
    <Schema Namespace="Shop" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String"/>
        <Property Name="UnitPrice" Type="Edm.Decimal"/>
        <Property Name="CategoryID" Type="Edm.Int32"/>
        <Property Name="ReleaseDate" Type="Edm.DateTime"/>
        <NavigationProperty Name="Category" Relationship="Shop.Product_Category" FromRole="Product" ToRole="Category"/>
      </EntityType>
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CategoryName" Type="Edm.String"/>
        <NavigationProperty Name="Products" Relationship="Shop.Product_Category" FromRole="Category" ToRole="Product"/>
      </EntityType>
      <EntityContainer Name="Container" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Products" EntityType="Shop.Product"/>
        <EntitySet Name="Categories" EntityType="Shop.Category"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

var (
	segmentPattern   = regexp.MustCompile(`^(\w+)(?:\((\d+)\))?(?:/(\w+))?$`)
	containsPattern  = regexp.MustCompile(`^contains\((\w+),'(.*)'\)$`)
	substringPattern = regexp.MustCompile(`^substringof\('(.*)',(\w+)\)$`)
	eqPattern        = regexp.MustCompile(`^(\w+) eq (\d+)$`)
)

// fakeService is an in-memory OData service with Products and Categories.
// v2 mode answers in the verbose {"d": ...} shape and enforces CSRF tokens
// on writes.
type fakeService struct {
	t  testing.TB
	v4 bool

	mu           sync.Mutex
	tables       map[string]map[int]map[string]interface{}
	keys         map[string]string
	requests     []string
	tokenFetches int
	failStatus   map[string]int // "METHOD path" -> forced status

	server *httptest.Server
}

func newFakeService(t testing.TB, v4 bool) *fakeService {
	f := &fakeService{
		t:  t,
		v4: v4,
		keys: map[string]string{
			"Products":   "ProductID",
			"Categories": "CategoryID",
		},
		failStatus: make(map[string]int),
	}
	f.reset()
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL is the service root
func (f *fakeService) URL() string {
	return f.server.URL + "/svc/"
}

func (f *fakeService) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	products := make(map[int]map[string]interface{})
	names := []string{"Chai", "Chang", "Aniseed Syrup", "Chef Anton's Cajun Seasoning", "Grandma's Boysenberry Spread"}
	for i, name := range names {
		id := i + 1
		product := map[string]interface{}{
			"ProductID":   id,
			"ProductName": name,
			"UnitPrice":   fmt.Sprintf("%d.50", 10+id),
			"CategoryID":  1 + i%2,
		}
		if !f.v4 {
			product["ReleaseDate"] = "/Date(1700000000000)/"
		}
		products[id] = product
	}
	f.tables = map[string]map[int]map[string]interface{}{
		"Products": products,
		"Categories": {
			1: {"CategoryID": 1, "CategoryName": "Beverages"},
			2: {"CategoryID": 2, "CategoryName": "Condiments"},
		},
	}
	f.requests = nil
	f.tokenFetches = 0
}

// fail forces status for every request matching method and path
func (f *fakeService) fail(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus[method+" "+path] = status
}

// TokenFetches counts CSRF token requests
func (f *fakeService) TokenFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenFetches
}

// Requests returns "METHOD path?query" for every data request seen
func (f *fakeService) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/svc/")

	switch {
	case path == "$metadata":
		w.Header().Set("Content-Type", "application/xml")
		if f.v4 {
			w.Write([]byte(metadataV4))
		} else {
			w.Write([]byte(metadataV2))
		}
		return
	case path == "" && r.Header.Get("X-CSRF-Token") == "Fetch":
		f.mu.Lock()
		f.tokenFetches++
		f.mu.Unlock()
		w.Header().Set("X-CSRF-Token", csrfToken)
		http.SetCookie(w, &http.Cookie{Name: "SAP_SESSIONID", Value: "fake-session"})
		w.WriteHeader(http.StatusOK)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entry := r.Method + " " + path
	if r.URL.RawQuery != "" {
		entry += "?" + r.URL.RawQuery
	}
	f.requests = append(f.requests, entry)

	if status, ok := f.failStatus[r.Method+" "+path]; ok {
		f.writeError(w, status, "Forced failure")
		return
	}

	if !f.v4 && r.Method != http.MethodGet && r.Header.Get("X-CSRF-Token") != csrfToken {
		w.Header().Set("X-CSRF-Token", "Required")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("CSRF token validation failed"))
		return
	}

	m := segmentPattern.FindStringSubmatch(path)
	if m == nil {
		f.writeError(w, http.StatusNotFound, "Resource not found for the segment '"+path+"'.")
		return
	}
	table, ok := f.tables[m[1]]
	if !ok {
		f.writeError(w, http.StatusNotFound, "Resource not found for the segment '"+m[1]+"'.")
		return
	}
	key := f.keys[m[1]]

	if m[2] == "" {
		switch r.Method {
		case http.MethodGet:
			f.writeCollection(w, r, table, key)
		case http.MethodPost:
			f.create(w, r, table, key)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	id, _ := strconv.Atoi(m[2])
	record, found := table[id]
	if !found {
		f.writeError(w, http.StatusNotFound, fmt.Sprintf("Resource not found for the segment '%s'.", path))
		return
	}

	if m[3] != "" {
		children := f.children(m[1], id, m[3])
		f.writeRecords(w, r, children)
		return
	}

	switch r.Method {
	case http.MethodGet:
		out := copyRecord(record)
		if expand := r.URL.Query().Get("$expand"); expand != "" {
			children := f.children(m[1], id, expand)
			if f.v4 {
				out[expand] = children
			} else {
				out[expand] = map[string]interface{}{"results": children}
			}
		}
		f.writeEntity(w, http.StatusOK, out)
	case http.MethodPatch, http.MethodPut, "MERGE":
		var patch map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			f.writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		delete(patch, key)
		for k, v := range patch {
			record[k] = v
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		delete(table, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// children resolves the Products of a category or the Category of a product
func (f *fakeService) children(resource string, id int, navigation string) []map[string]interface{} {
	var out []map[string]interface{}
	switch {
	case resource == "Categories" && navigation == "Products":
		for _, p := range sortedRecords(f.tables["Products"], "ProductID") {
			if fmt.Sprint(p["CategoryID"]) == strconv.Itoa(id) {
				out = append(out, copyRecord(p))
			}
		}
	case resource == "Products" && navigation == "Category":
		categoryID, _ := strconv.Atoi(fmt.Sprint(f.tables["Products"][id]["CategoryID"]))
		if category, ok := f.tables["Categories"][categoryID]; ok {
			out = append(out, copyRecord(category))
		}
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	return out
}

func (f *fakeService) create(w http.ResponseWriter, r *http.Request, table map[int]map[string]interface{}, key string) {
	var record map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		f.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !f.v4 {
		if _, isString := record["UnitPrice"].(string); record["UnitPrice"] != nil && !isString {
			f.writeError(w, http.StatusBadRequest, "Edm.Decimal must be sent as a string")
			return
		}
	}
	id := 1
	for existing := range table {
		if existing >= id {
			id = existing + 1
		}
	}
	record[key] = id
	table[id] = record
	f.writeEntity(w, http.StatusCreated, record)
}

func (f *fakeService) writeCollection(w http.ResponseWriter, r *http.Request, table map[int]map[string]interface{}, key string) {
	f.writeRecords(w, r, sortedRecords(table, key))
}

// writeRecords applies $filter, $orderby, $skip and $top to records
func (f *fakeService) writeRecords(w http.ResponseWriter, r *http.Request, records []map[string]interface{}) {
	q := r.URL.Query()

	if filter := q.Get("$filter"); filter != "" {
		for _, clause := range strings.Split(filter, " and ") {
			match, err := clauseMatcher(clause)
			if err != nil {
				f.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			var kept []map[string]interface{}
			for _, record := range records {
				if match(record) {
					kept = append(kept, record)
				}
			}
			records = kept
		}
	}

	if orderby := q.Get("$orderby"); orderby != "" {
		field, direction, _ := strings.Cut(orderby, " ")
		sort.SliceStable(records, func(i, j int) bool {
			a, b := fmt.Sprint(records[i][field]), fmt.Sprint(records[j][field])
			if direction == "desc" {
				return a > b
			}
			return a < b
		})
	}

	total := len(records)
	if skip, err := strconv.Atoi(q.Get("$skip")); err == nil && skip < len(records) {
		records = records[skip:]
	} else if err == nil {
		records = nil
	}
	if top, err := strconv.Atoi(q.Get("$top")); err == nil && top < len(records) {
		records = records[:top]
	}
	if records == nil {
		records = []map[string]interface{}{}
	}

	w.Header().Set("Content-Type", "application/json")
	if f.v4 {
		body := map[string]interface{}{"value": records}
		if q.Get("$count") == "true" {
			body["@odata.count"] = total
		}
		json.NewEncoder(w).Encode(body)
		return
	}
	d := map[string]interface{}{"results": records}
	if q.Get("$inlinecount") == "allpages" {
		d["__count"] = strconv.Itoa(total)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"d": d})
}

func (f *fakeService) writeEntity(w http.ResponseWriter, status int, record map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if f.v4 {
		json.NewEncoder(w).Encode(record)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"d": record})
}

func (f *fakeService) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if f.v4 {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": strconv.Itoa(status), "message": message},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    strconv.Itoa(status),
			"message": map[string]interface{}{"lang": "en", "value": message},
		},
	})
}

func clauseMatcher(clause string) (func(map[string]interface{}) bool, error) {
	if m := containsPattern.FindStringSubmatch(clause); m != nil {
		field, value := m[1], strings.ReplaceAll(m[2], "''", "'")
		return func(r map[string]interface{}) bool {
			return strings.Contains(fmt.Sprint(r[field]), value)
		}, nil
	}
	if m := substringPattern.FindStringSubmatch(clause); m != nil {
		value, field := strings.ReplaceAll(m[1], "''", "'"), m[2]
		return func(r map[string]interface{}) bool {
			return strings.Contains(fmt.Sprint(r[field]), value)
		}, nil
	}
	if m := eqPattern.FindStringSubmatch(clause); m != nil {
		field, value := m[1], m[2]
		return func(r map[string]interface{}) bool {
			return fmt.Sprint(r[field]) == value
		}, nil
	}
	return nil, fmt.Errorf("unsupported filter clause %q", clause)
}

func sortedRecords(table map[int]map[string]interface{}, key string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(table))
	for _, record := range table {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][key].(int) < out[j][key].(int) })
	return out
}

func copyRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
