package neso

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Registry field names used by the capacity market datastore.
const (
	FieldID              = "_id"
	FieldCMUID           = "CMU ID"
	FieldNameOfApplicant = "Name of Applicant"
	FieldParentCompany   = "Parent Company"
	FieldDeliveryYear    = "Delivery Year"
	FieldAuctionName     = "Auction Name"
	FieldDeratedCapacity = "De-Rated Capacity"
	FieldLocation        = "Location and Post Code"
	FieldDescription     = "Description of CMU Components"
	FieldTechnology      = "Generating Technology Class"
	FieldCompanyName     = "Company Name"
	FieldStatus          = "Status"
	FieldType            = "Type"
)

// Record is one datastore row keyed by column name.
type Record map[string]any

// String returns the field as text. Numbers are rendered without a trailing ".0".
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// datastoreResponse models the CKAN datastore_search envelope.
type datastoreResponse struct {
	Success bool            `json:"success"`
	Error   json.RawMessage `json:"error,omitempty"`
	Result  struct {
		Total   int      `json:"total"`
		Records []Record `json:"records"`
	} `json:"result"`
}
