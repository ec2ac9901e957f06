package ofxparser

import (
	"bytes"
	"fmt"
	"strings"

	"fjacquet/bank-recon/internal/reconerror"

	"gopkg.in/xmlpath.v2"
)

var (
	stmtTrnPath  = xmlpath.MustCompile("//STMTTRN")
	trnTypePath  = xmlpath.MustCompile("TRNTYPE")
	dtPostedPath = xmlpath.MustCompile("DTPOSTED")
	trnAmtPath   = xmlpath.MustCompile("TRNAMT")
	fitIDPath    = xmlpath.MustCompile("FITID")
	namePath     = xmlpath.MustCompile("NAME")
	memoPath     = xmlpath.MustCompile("MEMO")
)

// extractXML extracts STMTTRN records from an OFX 2.x XML document using
// XPath queries.
func extractXML(data []byte) ([]stmtTrn, error) {
	root, err := xmlpath.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &reconerror.ParseError{
			Format: "ofx-xml",
			Reason: "invalid XML",
			Err:    fmt.Errorf("error parsing OFX XML: %w", err),
		}
	}

	var records []stmtTrn
	iter := stmtTrnPath.Iter(root)
	idx := 0
	for iter.Next() {
		node := iter.Node()
		idx++

		rec := stmtTrn{line: idx}
		rec.trnType = nodeText(trnTypePath, node)
		rec.dtPosted = nodeText(dtPostedPath, node)
		rec.trnAmt = nodeText(trnAmtPath, node)
		rec.fitID = nodeText(fitIDPath, node)
		rec.name = nodeText(namePath, node)
		rec.memo = nodeText(memoPath, node)
		records = append(records, rec)
	}

	return records, nil
}

// nodeText evaluates a relative path against a node and trims the result.
func nodeText(path *xmlpath.Path, node *xmlpath.Node) string {
	v, ok := path.String(node)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
