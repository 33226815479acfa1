package dataset

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-verdict/internal/config"
	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/tokenizer"
)

// ValidationTicket names the stream a dataset service serves eval prompts on.
const ValidationTicket = "validation"

// FromFlight pulls the validation set from an Arrow Flight endpoint. The
// stream must carry the same columns a parquet file would.
func FromFlight(ctx context.Context, addr string, tok *tokenizer.Tokenizer, cfg config.DataConfig) (*Dataset, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("flight client %s: %w", addr, err)
	}
	defer func() {
		_ = client.Close()
	}()

	stream, err := client.DoGet(ctx, &flight.Ticket{Ticket: []byte(ValidationTicket)})
	if err != nil {
		return nil, fmt.Errorf("flight DoGet %s: %w", addr, err)
	}
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("flight record reader: %w", err)
	}
	defer reader.Release()

	var rows []row
	for reader.Next() {
		rec := reader.Record()
		prompts, ok := recordStrings(rec, cfg.PromptKey)
		if !ok {
			return nil, fmt.Errorf("flight stream has no string column %q", cfg.PromptKey)
		}
		sources, _ := recordStrings(rec, ColDataSource)
		truths, _ := recordStrings(rec, ColGroundTruth)

		for i, p := range prompts {
			r := row{prompt: p, dataSource: UnknownSource}
			if sources != nil {
				r.dataSource = sources[i]
			}
			if truths != nil {
				r.groundTruth = truths[i]
			}
			rows = append(rows, r)
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("flight stream: %w", err)
	}

	logger.Log.Info("fetched validation set over flight", "addr", addr, "rows", len(rows))
	return build(rows, tok, cfg)
}

func recordStrings(rec arrow.Record, name string) ([]string, bool) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, false
	}
	sa, ok := rec.Column(indices[0]).(*array.String)
	if !ok {
		return nil, false
	}
	out := make([]string, sa.Len())
	for i := range out {
		out[i] = sa.Value(i)
	}
	return out, true
}
