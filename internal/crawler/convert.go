package crawler

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"

	"capacity-checker/internal/model"
	"capacity-checker/internal/neso"
	"capacity-checker/internal/parse"
)

// toCMURecord maps a registry row. The company is the applicant, or the
// parent company when no applicant is named.
func toCMURecord(r neso.Record) model.CMURecord {
	applicant := r.String(neso.FieldNameOfApplicant)
	parent := r.String(neso.FieldParentCompany)
	fullName := applicant
	if fullName == "" {
		fullName = parent
	}
	return model.CMURecord{
		CMUID:           strings.ToUpper(r.String(neso.FieldCMUID)),
		NameOfApplicant: applicant,
		ParentCompany:   parent,
		FullName:        fullName,
		CompanyID:       parse.Normalize(fullName),
		DeliveryYear:    r.String(neso.FieldDeliveryYear),
		AuctionName:     r.String(neso.FieldAuctionName),
		DeratedCapacity: parse.ParseCapacity(r[neso.FieldDeratedCapacity]),
		Raw:             rawJSON(r),
	}
}

// toComponent maps a component row. The component's own company name wins
// over the one taken from its CMU.
func toComponent(r neso.Record, cmuID, companyName string) model.Component {
	location := r.String(neso.FieldLocation)
	_, outcode, _ := parse.ExtractPostcode(location)
	if name := r.String(neso.FieldCompanyName); name != "" {
		companyName = name
	}
	return model.Component{
		ComponentID:       r.String(neso.FieldID),
		CMUID:             strings.ToUpper(cmuID),
		Location:          location,
		Description:       r.String(neso.FieldDescription),
		Technology:        r.String(neso.FieldTechnology),
		CompanyName:       companyName,
		AuctionName:       r.String(neso.FieldAuctionName),
		DeliveryYear:      r.String(neso.FieldDeliveryYear),
		Status:            r.String(neso.FieldStatus),
		Type:              r.String(neso.FieldType),
		DeratedCapacityMW: parse.ParseCapacity(r[neso.FieldDeratedCapacity]),
		OutwardCode:       outcode,
		AdditionalData:    rawJSON(r),
	}
}

func rawJSON(r neso.Record) datatypes.JSON {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
