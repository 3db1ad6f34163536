package analysis

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// Record is the parquet form of a Row.
type Record struct {
	Subfolder       string `parquet:"name=subfolder, type=BYTE_ARRAY, convertedtype=UTF8"`
	Model           string `parquet:"name=gpt_model, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReasoningEffort string `parquet:"name=reasoning_effort, type=BYTE_ARRAY, convertedtype=UTF8"`
	Moves           int32  `parquet:"name=moves_played, type=INT32"`
	Illegal         bool   `parquet:"name=illegal_move, type=BOOLEAN"`
	IllegalDetail   string `parquet:"name=illegal_move_detail, type=BYTE_ARRAY, convertedtype=UTF8"`
	Result          string `parquet:"name=result, type=BYTE_ARRAY, convertedtype=UTF8"`
	Comments        string `parquet:"name=comments, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toRecord(r Row) Record {
	return Record{
		Subfolder:       r.Subfolder,
		Model:           r.Model,
		ReasoningEffort: r.ReasoningEffort,
		Moves:           int32(r.Moves),
		Illegal:         r.Illegal,
		IllegalDetail:   r.IllegalDetail,
		Result:          r.Result,
		Comments:        r.Comments,
	}
}

// WriteParquet stores rows as a snappy-compressed parquet file.
func WriteParquet(path string, rows []Row, parallel int64) error {
	fileWriter, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer fileWriter.Close()

	parquetWriter, err := writer.NewParquetWriter(fileWriter, new(Record), parallel)
	if err != nil {
		return err
	}
	parquetWriter.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		if err := parquetWriter.Write(toRecord(r)); err != nil {
			return err
		}
	}
	if err := parquetWriter.WriteStop(); err != nil {
		return err
	}
	return fileWriter.Close()
}

// ReadParquet loads every record of a file written by WriteParquet.
func ReadParquet(path string, parallel int64) ([]Record, error) {
	fileReader, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fileReader.Close()

	parquetReader, err := reader.NewParquetReader(fileReader, new(Record), parallel)
	if err != nil {
		return nil, err
	}
	defer parquetReader.ReadStop()

	records := make([]Record, int(parquetReader.GetNumRows()))
	if len(records) == 0 {
		return records, nil
	}
	if err := parquetReader.Read(&records); err != nil {
		return nil, err
	}
	return records, nil
}
