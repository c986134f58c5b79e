package record

import (
	"fmt"
	"io"
	"os"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
)

// ReadAcroForm builds a record from the filled fields of a PDF AcroForm.
// Fully qualified field names become record keys. Fields without a value,
// and checkboxes left at "Off", are absent from the record.
func ReadAcroForm(rs io.ReadSeeker) (Record, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "failed to read PDF context", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "failed to ensure page count", err)
	}

	root, err := ctx.Catalog()
	if err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "failed to get catalog", err)
	}

	fields := make(map[string]Value)
	acroObj, found := root.Find("AcroForm")
	if !found {
		return Record{fields: fields}, nil
	}
	acroForm, err := ctx.DereferenceDict(acroObj)
	if err != nil || acroForm == nil {
		return Record{fields: fields}, nil
	}
	fieldsObj, found := acroForm.Find("Fields")
	if !found {
		return Record{fields: fields}, nil
	}
	list, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "failed to dereference Fields array", err)
	}

	w := formWalker{ctx: ctx, fields: fields}
	for _, obj := range list {
		w.visit(obj, "", "", 0)
	}
	return Record{fields: fields}, nil
}

// ReadAcroFormFile checks the file is a readable PDF and then reads its form.
func ReadAcroFormFile(path string) (Record, error) {
	if err := checkReadable(path); err != nil {
		return Record{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer f.Close()

	return ReadAcroForm(f)
}

// checkReadable opens the document with a second parser so obviously broken
// files are reported before form traversal.
func checkReadable(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "PDF is not readable").
				WithContext(fmt.Sprint(r))
		}
	}()

	f, reader, openErr := lpdf.Open(path)
	if openErr != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "PDF is not readable", openErr)
	}
	defer f.Close()

	if reader.NumPage() < 1 {
		return assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "PDF has no pages").WithContext(path)
	}
	return nil
}

const maxFieldDepth = 32

type formWalker struct {
	ctx    *model.Context
	fields map[string]Value
}

func (w formWalker) visit(obj types.Object, parentName, parentType string, depth int) {
	if depth > maxFieldDepth {
		return
	}
	dict, err := w.ctx.DereferenceDict(obj)
	if err != nil || dict == nil {
		return
	}

	name := parentName
	if tObj, found := dict.Find("T"); found {
		if partial, err := w.ctx.DereferenceStringOrHexLiteral(tObj, model.V10, nil); err == nil && partial != "" {
			if name == "" {
				name = partial
			} else {
				name = parentName + "." + partial
			}
		}
	}

	fieldType := parentType
	if ftObj, found := dict.Find("FT"); found {
		if ft, err := w.ctx.DereferenceName(ftObj, model.V10, nil); err == nil {
			fieldType = string(ft)
		}
	}

	if kidsObj, found := dict.Find("Kids"); found {
		if kids, err := w.ctx.DereferenceArray(kidsObj); err == nil {
			for _, kid := range kids {
				w.visit(kid, name, fieldType, depth+1)
			}
		}
	}

	if name == "" {
		return
	}
	if _, done := w.fields[name]; done {
		return
	}
	vObj, found := dict.Find("V")
	if !found {
		return
	}
	if v, ok := w.value(vObj, fieldType); ok {
		w.fields[name] = v
	}
}

func (w formWalker) value(obj types.Object, fieldType string) (Value, bool) {
	switch fieldType {
	case "Tx":
		if s, err := w.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
			return Scalar(normalizeNewlines(s)), true
		}
	case "Ch":
		if s, err := w.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
			return Scalar(s), true
		}
		if arr, err := w.ctx.DereferenceArray(obj); err == nil {
			items := make([]string, 0, len(arr))
			for _, item := range arr {
				if s, err := w.ctx.DereferenceStringOrHexLiteral(item, model.V10, nil); err == nil {
					items = append(items, s)
				}
			}
			return Sequence(items...), true
		}
	case "Btn":
		if n, err := w.ctx.DereferenceName(obj, model.V10, nil); err == nil && n != "" && n != "Off" {
			return Scalar(string(n)), true
		}
	}
	return Value{}, false
}

// PDF text fields use CR as the line separator.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
