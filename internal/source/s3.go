// Package source reads the date-partitioned columnar block archive from
// the public object store. One date is one atomic unit of work for the
// block backfiller.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog/log"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

// ErrDateMissing marks a date partition absent from the archive. The
// caller reports it and retries on the next run; the checkpoint is not
// advanced.
var ErrDateMissing = errors.New("date partition not found in archive")

// blockRow is the columnar schema of one archived block header.
type blockRow struct {
	Number           int64     `parquet:"number"`
	Hash             string    `parquet:"hash,optional"`
	ParentHash       string    `parquet:"parent_hash,optional"`
	Nonce            string    `parquet:"nonce,optional"`
	Sha3Uncles       string    `parquet:"sha3_uncles,optional"`
	TransactionsRoot string    `parquet:"transactions_root,optional"`
	StateRoot        string    `parquet:"state_root,optional"`
	ReceiptsRoot     string    `parquet:"receipts_root,optional"`
	Miner            string    `parquet:"miner,optional"`
	Size             int64     `parquet:"size,optional"`
	ExtraData        string    `parquet:"extra_data,optional"`
	GasLimit         int64     `parquet:"gas_limit,optional"`
	GasUsed          int64     `parquet:"gas_used,optional"`
	Timestamp        time.Time `parquet:"timestamp,optional"`
	TransactionCount int64     `parquet:"transaction_count,optional"`
	BaseFeePerGas    int64     `parquet:"base_fee_per_gas,optional"`
}

type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Source(cfg *config.SourceConfig) (*S3Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Source{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// BlocksForDate fetches and decodes every archive file of one date
// partition. A parse error is fatal for the date; a missing partition
// returns ErrDateMissing.
func (s *S3Source) BlocksForDate(ctx context.Context, date string) ([]common.Block, error) {
	prefix := fmt.Sprintf("%s/date=%s/", s.prefix, date)
	listOutput, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archive files for %s: %w", date, err)
	}
	if len(listOutput.Contents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDateMissing, date)
	}

	var blocks []common.Block
	for _, object := range listOutput.Contents {
		key := aws.ToString(object.Key)
		rows, err := s.readFile(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		for _, row := range rows {
			blocks = append(blocks, rowToBlock(row))
		}
	}
	log.Debug().Msgf("Fetched %d archived blocks for date %s", len(blocks), date)
	return blocks, nil
}

func (s *S3Source) readFile(ctx context.Context, key string) ([]blockRow, error) {
	getOutput, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer getOutput.Body.Close()

	data, err := io.ReadAll(getOutput.Body)
	if err != nil {
		return nil, err
	}

	rows, err := parquet.Read[blockRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parquet decode failed: %w", err)
	}
	return rows, nil
}

func rowToBlock(row blockRow) common.Block {
	return common.Block{
		Number:           big.NewInt(row.Number),
		Hash:             row.Hash,
		ParentHash:       row.ParentHash,
		Timestamp:        row.Timestamp.UTC(),
		Nonce:            row.Nonce,
		Sha3Uncles:       row.Sha3Uncles,
		Miner:            row.Miner,
		StateRoot:        row.StateRoot,
		TransactionsRoot: row.TransactionsRoot,
		ReceiptsRoot:     row.ReceiptsRoot,
		Size:             uint64(row.Size),
		ExtraData:        row.ExtraData,
		GasLimit:         big.NewInt(row.GasLimit),
		GasUsed:          big.NewInt(row.GasUsed),
		TransactionCount: uint64(row.TransactionCount),
		BaseFeePerGas:    uint64(row.BaseFeePerGas),
	}
}
