// Package topaz stores registration data in an Aserto directory.
package topaz

import (
	"github.com/aserto-dev/go-aserto"
	dsr "github.com/aserto-dev/go-directory/aserto/directory/reader/v3"
	dsw "github.com/aserto-dev/go-directory/aserto/directory/writer/v3"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

type Client struct {
	Reader dsr.ReaderClient
	Writer dsw.WriterClient

	conn *grpc.ClientConn
}

func Connect(cfg *aserto.Config) (*Client, error) {
	conn, err := cfg.Connect()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to directory at %q", cfg.Address)
	}

	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{
		Reader: dsr.NewReaderClient(conn),
		Writer: dsw.NewWriterClient(conn),
		conn:   conn,
	}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	return c.conn.Close()
}
