package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/nvm"
	"github.com/rigado/bonddb/nvm/file"
	"github.com/rigado/bonddb/nvm/serial"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		bonddb.GetLogger().Error(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "bonddb"
	app.Usage = "inspect and edit a BLE bond table image"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "image, i",
			Usage:  "bond table image file",
			EnvVar: "BONDDB_IMAGE",
		},
		cli.StringFlag{
			Name:   "serial, s",
			Usage:  "serial device of a storage agent, used instead of --image",
			EnvVar: "BONDDB_SERIAL",
		},
		cli.UintFlag{
			Name:  "baud",
			Value: 115200,
			Usage: "serial baud rate",
		},
		cli.StringFlag{
			Name:  "medium, m",
			Value: "flash",
			Usage: "flash or eeprom",
		},
		cli.Int64Flag{
			Name:  "offset",
			Value: -1,
			Usage: "table offset, defaults to the usual offset for the medium",
		},
		cli.IntFlag{
			Name:  "capacity, n",
			Value: bonddb.DefaultCapacity,
			Usage: "number of bond slots",
		},
		cli.IntFlag{
			Name:  "sector-size",
			Value: nvm.DefaultSectorSize,
			Usage: "flash erase sector size",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "debug logging",
		},
	}

	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			bonddb.SetLogLevel(logrus.DebugLevel)
		}
		return nil
	}

	app.Commands = commands()
	return app
}

type storage interface {
	nvm.Storage
	io.Closer
}

// openDB opens the storage named by the global flags and loads the table,
// clearing it when it is blank or corrupt.
func openDB(c *cli.Context) (*bonddb.DB, func(), error) {
	flash := true
	switch c.GlobalString("medium") {
	case "flash":
	case "eeprom":
		flash = false
	default:
		return nil, nil, errors.Errorf("unknown medium %q", c.GlobalString("medium"))
	}

	capacity := c.GlobalInt("capacity")
	sectorSize := c.GlobalInt("sector-size")
	offset := c.GlobalInt64("offset")
	if offset < 0 {
		offset = bonddb.DefaultOffset
		if !flash {
			offset = bonddb.DefaultEEPROMOffset
		}
	}

	var st storage
	var err error
	switch {
	case c.GlobalString("serial") != "":
		path, baud := c.GlobalString("serial"), c.GlobalUint("baud")
		if flash {
			st, err = serial.OpenFlash(path, baud, sectorSize)
		} else {
			st, err = serial.Open(path, baud)
		}
	case c.GlobalString("image") != "":
		if flash {
			size := imageSize(offset, capacity, sectorSize)
			st, err = file.OpenFlash(c.GlobalString("image"), size, sectorSize)
		} else {
			st, err = file.Open(c.GlobalString("image"), imageSize(offset, capacity, 0))
		}
	default:
		return nil, nil, errors.New("one of --image or --serial is required")
	}
	if err != nil {
		return nil, nil, err
	}

	db, err := bonddb.New(st, bonddb.OptCapacity(capacity), bonddb.OptOffset(offset))
	if err == nil {
		err = db.Init()
	}
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	return db, func() { st.Close() }, nil
}

// imageSize covers the table, rounded up to whole sectors.
func imageSize(offset int64, capacity, sectorSize int) int64 {
	end := offset + int64(bonddb.TableSize(capacity))
	if sectorSize > 0 {
		ss := int64(sectorSize)
		end = (end + ss - 1) / ss * ss
	}
	return end
}
