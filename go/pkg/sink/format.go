package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"ohlcv-pipeline/go/pkg/ohlcv"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

// Encoder writes a whole series in one file format.
type Encoder interface {
	Encode(w io.Writer, s ohlcv.Series) error
	Extension() string
}

// Formats lists the names accepted by NewEncoder.
var Formats = []string{"csv", "json", "parquet", "arrow"}

// NewEncoder returns the encoder for format (csv, json, parquet, arrow).
func NewEncoder(format string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVEncoder{}, nil
	case "json":
		return JSONEncoder{}, nil
	case "parquet":
		return ParquetEncoder{}, nil
	case "arrow", "ipc":
		return ArrowEncoder{}, nil
	default:
		return nil, fmt.Errorf("sink: unsupported format %q (use: %s)", format, strings.Join(Formats, ", "))
	}
}

// fileRow is the on-disk shape of one bar.
type fileRow struct {
	Datetime     string  `json:"datetime" parquet:"datetime"`
	Open         float64 `json:"open" parquet:"open"`
	High         float64 `json:"high" parquet:"high"`
	Low          float64 `json:"low" parquet:"low"`
	Close        float64 `json:"close" parquet:"close"`
	Volume       float64 `json:"volume" parquet:"volume"`
	OpenInterest float64 `json:"open_interest" parquet:"open_interest"`
	ScripCode    string  `json:"scrip_code,omitempty" parquet:"scrip_code,optional"`
	ExpiryType   string  `json:"expiry_type,omitempty" parquet:"expiry_type,optional"`
	ExpiryDate   string  `json:"expiry_date,omitempty" parquet:"expiry_date,optional"`
}

func toRows(s ohlcv.Series) []fileRow {
	rows := make([]fileRow, len(s))
	for i, b := range s {
		rows[i] = fileRow{
			Datetime:     b.Time.Format(ohlcv.TimeLayout),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			OpenInterest: b.OpenInterest,
			ScripCode:    b.ScripCode,
			ExpiryType:   b.ExpiryType,
			ExpiryDate:   b.ExpiryDate,
		}
	}
	return rows
}

// CSVEncoder writes a header row followed by one line per bar. The
// pass-through columns appear only when some bar carries them.
type CSVEncoder struct{}

func (CSVEncoder) Extension() string { return "csv" }

func (CSVEncoder) Encode(w io.Writer, s ohlcv.Series) error {
	cols := append([]string{}, ohlcv.RequiredColumns...)
	extra := passThrough(s)
	cols = append(cols, extra...)

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	rec := make([]string, len(cols))
	for _, b := range s {
		vals := b.Values()
		for i, c := range cols {
			rec[i] = vals[c]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func passThrough(s ohlcv.Series) []string {
	var scrip, expT, expD bool
	for _, b := range s {
		scrip = scrip || b.ScripCode != ""
		expT = expT || b.ExpiryType != ""
		expD = expD || b.ExpiryDate != ""
	}
	var out []string
	for i, has := range []bool{scrip, expT, expD} {
		if has {
			out = append(out, ohlcv.PassThroughColumns[i])
		}
	}
	return out
}

// JSONEncoder writes an indented array of row objects.
type JSONEncoder struct{}

func (JSONEncoder) Extension() string { return "json" }

func (JSONEncoder) Encode(w io.Writer, s ohlcv.Series) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toRows(s))
}

type ParquetEncoder struct{}

func (ParquetEncoder) Extension() string { return "parquet" }

func (ParquetEncoder) Encode(w io.Writer, s ohlcv.Series) error {
	return parquet.Write(w, toRows(s))
}

var arrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "ts", Type: arrow.PrimitiveTypes.Int64},
	{Name: ohlcv.ColDatetime, Type: arrow.BinaryTypes.String},
	{Name: ohlcv.ColOpen, Type: arrow.PrimitiveTypes.Float64},
	{Name: ohlcv.ColHigh, Type: arrow.PrimitiveTypes.Float64},
	{Name: ohlcv.ColLow, Type: arrow.PrimitiveTypes.Float64},
	{Name: ohlcv.ColClose, Type: arrow.PrimitiveTypes.Float64},
	{Name: ohlcv.ColVolume, Type: arrow.PrimitiveTypes.Float64},
	{Name: ohlcv.ColOpenInterest, Type: arrow.PrimitiveTypes.Float64},
	{Name: ohlcv.ColScripCode, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: ohlcv.ColExpiryType, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: ohlcv.ColExpiryDate, Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// ArrowEncoder writes one record batch in the Arrow IPC stream format.
type ArrowEncoder struct{}

func (ArrowEncoder) Extension() string { return "arrow" }

func (ArrowEncoder) Encode(w io.Writer, s ohlcv.Series) error {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), arrowSchema)
	defer b.Release()

	ts := b.Field(0).(*array.Int64Builder)
	dt := b.Field(1).(*array.StringBuilder)
	floats := make([]*array.Float64Builder, 6)
	for i := range floats {
		floats[i] = b.Field(2 + i).(*array.Float64Builder)
	}
	optional := []*array.StringBuilder{
		b.Field(8).(*array.StringBuilder),
		b.Field(9).(*array.StringBuilder),
		b.Field(10).(*array.StringBuilder),
	}

	for _, bar := range s {
		ts.Append(bar.Time.Unix())
		dt.Append(bar.Time.Format(ohlcv.TimeLayout))
		for i, v := range []float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.OpenInterest} {
			floats[i].Append(v)
		}
		for i, v := range []string{bar.ScripCode, bar.ExpiryType, bar.ExpiryDate} {
			if v == "" {
				optional[i].AppendNull()
			} else {
				optional[i].Append(v)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(arrowSchema))
	if err := iw.Write(rec); err != nil {
		_ = iw.Close()
		return fmt.Errorf("arrow write: %w", err)
	}
	return iw.Close()
}
